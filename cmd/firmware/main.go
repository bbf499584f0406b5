//go:build tinygo

// Command firmware is the device-side entrypoint: it wires the two
// UARTs, constructs the session state machine over the real flash and
// CRC hardware, and runs the OTA receive loop alongside a small debug
// console, grounded on the teacher's main.go/console.go wiring style
// (structured slog logger over the debug UART, watchdog feeding during
// long flash operations, panic-recover around each session).
package main

import (
	"log/slog"
	"machine"
	"time"

	"github.com/seanshnkim/otaflash/internal/bootrecord"
	"github.com/seanshnkim/otaflash/internal/config"
	"github.com/seanshnkim/otaflash/internal/crcengine"
	"github.com/seanshnkim/otaflash/internal/evlog"
	"github.com/seanshnkim/otaflash/internal/flashdrv"
	"github.com/seanshnkim/otaflash/internal/otaproto"
	"github.com/seanshnkim/otaflash/internal/session"
	"github.com/seanshnkim/otaflash/version"
)

// Device addressing. bankA/bankB/bootRecordAddr are deliberately spaced
// a full bankSize apart so the two banks and the boot record sector
// never overlap (original_source's own literal addresses do not satisfy
// this for its BANK_SIZE, see internal/session's test suite for the same
// fix applied to the simulated arena).
const (
	bankSize       = 256 * 1024
	bankAAddr      = 0x08010000
	bankBAddr      = bankAAddr + bankSize
	bootRecordAddr = bankBAddr + bankSize
	sectorSize     = 2048

	flashRegsBase = 0x40022000
	crcRegsBase   = 0x40023000

	watchdogTimeoutMillis = 8000
	watchdogFeedInterval  = 2 * time.Second
	eventLogCapacity      = 64
)

func main() {
	time.Sleep(2 * time.Second)

	otaUART := machine.UART0
	otaUART.Configure(machine.UARTConfig{BaudRate: 115200})
	debugUART := machine.UART1
	debugUART.Configure(machine.UARTConfig{BaudRate: 115200})

	otaTransport := &uartTransport{uart: otaUART}

	debugWriter := lockedWriter{uart: debugUART}
	events := evlog.New(eventLogCapacity, nowUnixNano)
	logger := slog.New(evlog.NewHandler(debugWriter, events, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	logger.Info("firmware starting", "version", version.Version, "git_sha", version.GitSHA, "built", version.BuildDate)

	// flashBase is 0: every address this firmware passes to Flash (bank
	// addresses, the boot record address) is already an absolute memory
	// address, not an offset from some region start.
	flash := flashdrv.NewHardware(flashRegsBase, 0, sectorSize)
	crc := crcengine.NewHardware(crcRegsBase)
	boot := bootrecord.NewStore(flash, crc, bootRecordAddr)

	raw, err := flash.Read(bootRecordAddr, 20)
	activeBank := bootrecord.BankA
	if err == nil {
		if rec, err := boot.Read(raw); err == nil {
			activeBank = rec.ActiveBank
		} else {
			logger.Warn("boot record unreadable, defaulting to bank A active", "err", err)
		}
	}

	cfg := session.Config{BankAAddress: bankAAddr, BankBAddress: bankBAddr, BankSize: bankSize}
	sess := session.New(flash, crc, boot, cfg, activeBank, logger)

	machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: watchdogTimeoutMillis})
	machine.Watchdog.Start()
	logger.Info("watchdog started", "timeout_ms", watchdogTimeoutMillis)

	stopFeeding := make(chan struct{})
	go feedWatchdogWhileRunning(stopFeeding)

	go flushEventLogPeriodically(events, debugWriter)
	go runDebugConsole(debugUART, sess, events)

	for {
		runSessionWithRecover(sess, otaTransport, logger)
		logger.Info("session loop returned, restarting")
	}
}

func nowUnixNano() int64 {
	return time.Now().UnixNano()
}

// runSessionWithRecover drives one Run() call and converts a panic into
// a logged error so a single bad packet can never wedge the device
// outside of the watchdog's own reset path.
func runSessionWithRecover(sess *session.Session, tr otaproto.Transport, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("session panicked, recovering", "panic", r)
		}
	}()
	if err := sess.Run(tr, config.HeaderTimeout(), config.DataBodyTimeout()); err != nil {
		logger.Error("session exited with error", "err", err)
	}
}

// feedWatchdogWhileRunning feeds the watchdog on a fixed ticker, at a
// cadence well under its timeout, until stop is closed. It runs
// independently of the receive loop: it does not observe whether a
// session is making progress, and main never closes stop.
func feedWatchdogWhileRunning(stop chan struct{}) {
	ticker := time.NewTicker(watchdogFeedInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			machine.Watchdog.Update()
		case <-stop:
			return
		}
	}
}

// flushEventLogPeriodically drains the event log to the debug UART on a
// fixed interval, the no-network descendant of the teacher's telemetry
// sender loop.
func flushEventLogPeriodically(events *evlog.Log, w lockedWriter) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		_ = events.Flush(w)
	}
}
