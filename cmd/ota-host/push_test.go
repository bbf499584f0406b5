package main

import (
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"github.com/seanshnkim/otaflash/internal/bootrecord"
	"github.com/seanshnkim/otaflash/internal/crcengine"
	"github.com/seanshnkim/otaflash/internal/flashdrv"
	"github.com/seanshnkim/otaflash/internal/otaproto"
	"github.com/seanshnkim/otaflash/internal/session"
)

// pipeTransport adapts a net.Conn (from net.Pipe) to otaproto.Transport;
// net.Conn already implements Read/Write/SetReadDeadline.
type pipeTransport struct {
	net.Conn
}

const (
	pushTestBankA     = 0x08010000
	pushTestBankSize  = 64 * 1024
	pushTestBankB     = pushTestBankA + pushTestBankSize
	pushTestBootAddr  = pushTestBankB + pushTestBankSize
	pushTestSectorLen = 2048
)

func newDeviceSession(t *testing.T) *session.Session {
	t.Helper()
	arenaSize := uint32(pushTestBootAddr+pushTestSectorLen) - pushTestBankA
	flash := flashdrv.NewSimulated(pushTestBankA, arenaSize, pushTestSectorLen)
	crc := crcengine.NewSoftware()
	boot := bootrecord.NewStore(flash, crc, pushTestBootAddr)

	require.NoError(t, flash.EraseSectors(pushTestBankA, pushTestBankSize), "seed erase bank A")
	require.NoError(t, boot.Write(bootrecord.Record{
		ActiveBank:  bootrecord.BankA,
		BankAStatus: bootrecord.StatusValid,
		BankBStatus: bootrecord.StatusInvalid,
	}), "seed boot record")

	cfg := session.Config{BankAAddress: pushTestBankA, BankBAddress: pushTestBankB, BankSize: pushTestBankSize}
	return session.New(flash, crc, boot, cfg, bootrecord.BankA, slog.Default())
}

func TestPushFirmwareEndToEndOverPipe(t *testing.T) {
	clientConn, deviceConn := net.Pipe()
	defer clientConn.Close()
	defer deviceConn.Close()

	sess := newDeviceSession(t)
	done := make(chan error, 1)
	go func() {
		done <- sess.Run(pipeTransport{deviceConn}, 2*time.Second, 2*time.Second)
	}()

	fw := make([]byte, 3*otaproto.ChunkSize+100)
	for i := range fw {
		fw[i] = byte(i)
	}

	logger := log.New(testingWriter{t})
	result, err := pushFirmware(logger, pipeTransport{clientConn}, fw, 42, 2*time.Second, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, uint32(len(fw)), result.FirmwareSize)

	select {
	case err := <-done:
		require.NoError(t, err, "device session.Run")
	case <-time.After(5 * time.Second):
		t.Fatal("device session did not complete in time")
	}
	require.Equal(t, session.StateComplete, sess.State())
	require.Equal(t, bootrecord.BankB, sess.ActiveBank())
}

// testingWriter adapts *testing.T.Log to io.Writer so the CLI's logger
// output lands in the test log instead of process stdout/stderr.
type testingWriter struct{ t *testing.T }

func (w testingWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", p)
	return len(p), nil
}
