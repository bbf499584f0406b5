//go:build tinygo

package main

import (
	"machine"
	"time"
)

// uartTransport adapts a machine.UART — whose Read never blocks, just
// returns whatever is currently buffered — to otaproto.Transport's
// per-call deadline contract by polling Buffered() until either data
// arrives or the deadline passes. This mirrors original_source's
// ota_uart.c, which polls HAL_UART_Receive in a loop against
// HAL_GetTick() rather than relying on a blocking read with a kernel
// timeout.
type uartTransport struct {
	uart     *machine.UART
	deadline time.Time
}

func (u *uartTransport) SetReadDeadline(t time.Time) error {
	u.deadline = t
	return nil
}

func (u *uartTransport) Write(p []byte) (int, error) {
	return u.uart.Write(p)
}

type uartTimeoutError struct{}

func (uartTimeoutError) Error() string { return "firmware: uart read timed out" }
func (uartTimeoutError) Timeout() bool { return true }

const uartPollInterval = time.Millisecond

func (u *uartTransport) Read(p []byte) (int, error) {
	for {
		if u.uart.Buffered() > 0 {
			return u.uart.Read(p)
		}
		if !u.deadline.IsZero() && time.Now().After(u.deadline) {
			return 0, uartTimeoutError{}
		}
		time.Sleep(uartPollInterval)
	}
}
