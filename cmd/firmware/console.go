//go:build tinygo

package main

import (
	"fmt"
	"machine"
	"sync"

	"github.com/seanshnkim/otaflash/internal/evlog"
	"github.com/seanshnkim/otaflash/internal/session"
)

// consoleWriteMu serializes writes to the debug UART between the event
// log's periodic flush and the console's command responses, so the two
// never interleave mid-line.
var consoleWriteMu sync.Mutex

func consoleWrite(uart *machine.UART, s string) {
	consoleWriteMu.Lock()
	defer consoleWriteMu.Unlock()
	uart.Write([]byte(s))
}

// lockedWriter serializes every Write through consoleWriteMu so the event
// log's periodic flush, the console's own responses, and the slog text
// handler never interleave output on the shared debug UART.
type lockedWriter struct {
	uart *machine.UART
}

func (w lockedWriter) Write(p []byte) (int, error) {
	consoleWriteMu.Lock()
	defer consoleWriteMu.Unlock()
	return w.uart.Write(p)
}

// runDebugConsole is a small line-oriented command loop over the debug
// UART, the no-network descendant of the teacher's TCP console.go: no
// authentication, no remote access, just "status" and "flush" for a
// technician with a USB-serial cable plugged directly into the board.
func runDebugConsole(uart *machine.UART, sess *session.Session, events *evlog.Log) {
	var line []byte
	for {
		if uart.Buffered() == 0 {
			continue
		}
		b, err := uart.ReadByte()
		if err != nil {
			continue
		}
		if b != '\n' && b != '\r' {
			line = append(line, b)
			continue
		}
		if len(line) == 0 {
			continue
		}
		handleConsoleCommand(uart, sess, events, string(line))
		line = line[:0]
	}
}

func handleConsoleCommand(uart *machine.UART, sess *session.Session, events *evlog.Log, cmd string) {
	switch cmd {
	case "status":
		consoleWrite(uart, fmt.Sprintf("state=%s active_bank=%v queued_events=%d\n", sess.State(), sess.ActiveBank(), events.Len()))
	case "flush":
		if err := events.Flush(lockedWriter{uart: uart}); err != nil {
			consoleWrite(uart, fmt.Sprintf("flush failed: %v\n", err))
		}
	default:
		consoleWrite(uart, "unknown command: "+cmd+"\n")
	}
}
