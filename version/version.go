// Package version holds build identity injected at link time, so a
// technician checking a device's debug console or an ota-host log can
// tell exactly which commit and build a running firmware image came
// from — the same question the START packet's firmware_version field
// answers on the wire, but readable without a serial capture.
package version

// Build information (injected via ldflags - must NOT have default values).
var (
	Version   string
	GitSHA    string
	BuildDate string
)
