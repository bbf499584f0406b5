//go:build tinygo

package crcengine

import (
	"runtime/volatile"
	"unsafe"
)

// crcRegisters mirrors the STM32 CRC peripheral register block: DR is the
// data register (write a word, it is consumed by the divider; read it back
// for the running/final remainder), CR's low bit (RESET) reinitializes DR
// to the seed.
type crcRegisters struct {
	DR  volatile.Register32
	IDR volatile.Register32
	CR  volatile.Register32
}

const crcResetBit = 1 << 0

// Hardware drives the target's CRC peripheral directly. It never performs
// the polynomial division itself — the value returned by Read is whatever
// the peripheral computed, which is exactly what must match Software so
// the two engines are interchangeable.
type Hardware struct {
	regs *crcRegisters
}

// NewHardware returns a Hardware engine bound to the CRC peripheral at the
// given base address.
func NewHardware(base uintptr) *Hardware {
	h := &Hardware{regs: (*crcRegisters)(unsafe.Pointer(base))}
	h.Reset()
	return h
}

func (h *Hardware) Reset() {
	h.regs.CR.Set(crcResetBit)
}

func (h *Hardware) FeedWords(words []uint32) {
	for _, w := range words {
		h.regs.DR.Set(w)
	}
}

func (h *Hardware) FeedTrailing(tail []byte) {
	if len(tail) == 0 {
		return
	}
	if len(tail) >= 4 {
		panic("crcengine: FeedTrailing accepts at most 3 bytes")
	}
	var word uint32
	for i, b := range tail {
		word |= uint32(b) << (8 * uint(i))
	}
	h.regs.DR.Set(word)
}

func (h *Hardware) Read() uint32 {
	return h.regs.DR.Get()
}
