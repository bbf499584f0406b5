// Command ota-host drives the OTA wire protocol over a real serial
// device from a developer's workstation: push a firmware image to a
// board, or inspect a firmware file's header without a board attached.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"zappem.net/pub/debug/xxd"

	"github.com/seanshnkim/otaflash/internal/hostconfig"
	"github.com/seanshnkim/otaflash/version"
)

func main() {
	var (
		profilePath = pflag.String("config", "ota-host.yaml", "path to the device profile YAML file")
		profileName = pflag.String("profile", "", "profile name within --config (default: file's default_profile)")
		port        = pflag.String("port", "", "serial device path, overrides the profile")
		baud        = pflag.Int("baud", 0, "baud rate, overrides the profile")
		fwVersion   = pflag.Uint32("version", 1, "firmware version number to send in the START packet")
		inspect     = pflag.Bool("inspect", false, "inspect the firmware file's header and exit, no device needed")
	)
	pflag.Parse()

	logger := log.New(os.Stderr)
	logger.Debug("ota-host build", "version", version.Version, "git_sha", version.GitSHA, "built", version.BuildDate)

	if *inspect {
		if pflag.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "usage: ota-host --inspect <firmware-file>")
			os.Exit(2)
		}
		if err := inspectFirmware(pflag.Arg(0)); err != nil {
			logger.Fatal("inspect failed", "err", err)
		}
		return
	}

	if pflag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: ota-host [--config profiles.yaml] [--profile name] <firmware-file>")
		os.Exit(2)
	}
	fwPath := pflag.Arg(0)

	profile, err := resolveProfile(*profilePath, *profileName, *port, *baud)
	if err != nil {
		logger.Fatal("profile resolution failed", "err", err)
	}

	fw, err := os.ReadFile(fwPath)
	if err != nil {
		logger.Fatal("read firmware file", "err", err)
	}

	tr, err := openSerial(profile.Port, profile.Baud)
	if err != nil {
		logger.Fatal("open serial port", "err", err)
	}
	defer tr.Close()

	logger.Info("starting upload", "port", profile.Port, "baud", profile.Baud, "size", len(fw))
	result, err := pushFirmware(logger, tr, fw, *fwVersion, profile.HeaderTimeout, profile.DataBodyTimeout)
	if err != nil {
		logger.Fatal("upload failed", "err", err)
	}
	logger.Info("upload complete", "size", result.FirmwareSize, "chunks", result.TotalChunks, "elapsed", result.Duration.Round(time.Millisecond))
}

func resolveProfile(configPath, name, portOverride string, baudOverride int) (hostconfig.Profile, error) {
	f, err := hostconfig.Load(configPath)
	if err != nil {
		return hostconfig.Profile{}, err
	}
	p, err := f.Profile(name)
	if err != nil {
		return hostconfig.Profile{}, err
	}
	if portOverride != "" {
		p.Port = portOverride
	}
	if baudOverride != 0 {
		p.Baud = baudOverride
	}
	if p.Port == "" {
		return hostconfig.Profile{}, fmt.Errorf("ota-host: no serial port given (set --port or profile.port)")
	}
	return p, nil
}

// inspectFirmware hex-dumps a firmware file's first 64 bytes, grounded
// on the teacher CLI's readFirmwareInfo but without any UF2 container
// parsing — this protocol's firmware images are raw binaries, so there
// is no header to decode beyond what the operator wants to eyeball.
func inspectFirmware(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return err
	}

	const headerPeek = 64
	buf := make([]byte, headerPeek)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return err
	}

	fmt.Printf("firmware file: %s\n", path)
	fmt.Printf("size: %d bytes (%d chunks of %d)\n", stat.Size(), (stat.Size()+1023)/1024, 1024)
	xxd.Print(0, buf[:n])
	return nil
}
