// Package hostconfig loads the ota-host CLI's device profile: the
// serial port to dial and the per-session timeouts to use, since a
// developer's machine talks to boards over USB-serial adapters at
// whatever path and baud the board happens to enumerate as. Unlike
// internal/config's compile-time-embedded device constants, this is a
// YAML file read at runtime (grounded on doismellburning-samoyed's use
// of gopkg.in/yaml.v3).
package hostconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/seanshnkim/otaflash/internal/config"
)

// Profile is one named device's connection and timing settings.
type Profile struct {
	Port            string        `yaml:"port"`
	Baud            int           `yaml:"baud"`
	HeaderTimeout   time.Duration `yaml:"header_timeout"`
	DataBodyTimeout time.Duration `yaml:"data_body_timeout"`
}

// File is the on-disk shape of a profiles YAML document:
//
//	default_profile: bench
//	profiles:
//	  bench:
//	    port: /dev/ttyACM0
//	    baud: 115200
type File struct {
	DefaultProfile string             `yaml:"default_profile"`
	Profiles       map[string]Profile `yaml:"profiles"`
}

// Load reads and parses a profiles file from path.
func Load(path string) (File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("hostconfig: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return File{}, fmt.Errorf("hostconfig: parse %s: %w", path, err)
	}
	return f, nil
}

// Profile returns the named profile, or the file's default_profile if
// name is empty. Zero-value HeaderTimeout/DataBodyTimeout are filled in
// from the same defaults the device itself falls back to, so a profile
// entry only needs to name what differs from the device's built-ins.
func (f File) Profile(name string) (Profile, error) {
	if name == "" {
		name = f.DefaultProfile
	}
	if name == "" {
		return Profile{}, fmt.Errorf("hostconfig: no profile name given and no default_profile set")
	}
	p, ok := f.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("hostconfig: no profile named %q", name)
	}
	if p.Baud == 0 {
		p.Baud = 115200
	}
	if p.HeaderTimeout == 0 {
		p.HeaderTimeout = config.DefaultHeaderTimeout
	}
	if p.DataBodyTimeout == 0 {
		p.DataBodyTimeout = config.DefaultDataBodyTimeout
	}
	return p, nil
}
