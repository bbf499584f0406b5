package otaproto_test

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/seanshnkim/otaflash/internal/otaproto"
)

// memTransport is a Transport backed by an in-memory buffer, standing in
// for a real UART in tests. SetReadDeadline is a no-op since there is
// nothing to actually wait on.
type memTransport struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (m *memTransport) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf.Read(p)
}

func (m *memTransport) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf.Write(p)
}

func (m *memTransport) SetReadDeadline(time.Time) error { return nil }

func TestStartPacketRoundTrip(t *testing.T) {
	tr := &memTransport{}
	want := otaproto.StartPacket{
		FirmwareSize:    5120,
		FirmwareVersion: 7,
		FirmwareCRC32:   0xCAFEBABE,
		TotalChunks:     5,
		TargetBank:      otaproto.TargetBankB,
	}
	if err := otaproto.WriteStart(tr, want); err != nil {
		t.Fatalf("WriteStart: %v", err)
	}
	magic, ptype, err := otaproto.ReadHeader(tr, time.Second)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if magic != otaproto.MagicStart || ptype != otaproto.PacketStart {
		t.Fatalf("header = (%#08x, %s), want (MagicStart, PacketStart)", magic, ptype)
	}
	got, err := otaproto.ReadStartBody(tr, time.Second)
	if err != nil {
		t.Fatalf("ReadStartBody: %v", err)
	}
	if got != want {
		t.Fatalf("round trip = %+v, want %+v", got, want)
	}
}

func TestDataPacketRoundTrip(t *testing.T) {
	tr := &memTransport{}
	var want otaproto.DataPacket
	want.ChunkNumber = 3
	want.ChunkSize = 904
	want.ChunkCRC32 = 0x11223344
	for i := range want.Data[:want.ChunkSize] {
		want.Data[i] = byte(i)
	}
	if err := otaproto.WriteData(tr, want); err != nil {
		t.Fatalf("WriteData: %v", err)
	}
	_, ptype, err := otaproto.ReadHeader(tr, time.Second)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if ptype != otaproto.PacketData {
		t.Fatalf("ptype = %s, want DATA", ptype)
	}
	got, err := otaproto.ReadDataBody(tr, time.Second)
	if err != nil {
		t.Fatalf("ReadDataBody: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch")
	}
}

func TestResponsePacketRoundTrip(t *testing.T) {
	tr := &memTransport{}
	want := otaproto.ResponsePacket{ErrorCode: otaproto.ErrCRC, LastChunkReceived: 2}
	if err := otaproto.WriteResponse(tr, otaproto.PacketNack, want); err != nil {
		t.Fatalf("WriteResponse: %v", err)
	}
	_, ptype, err := otaproto.ReadHeader(tr, time.Second)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if ptype != otaproto.PacketNack {
		t.Fatalf("ptype = %s, want NACK", ptype)
	}
	got, err := otaproto.ReadResponseBody(tr, time.Second)
	if err != nil {
		t.Fatalf("ReadResponseBody: %v", err)
	}
	if got != want {
		t.Fatalf("round trip = %+v, want %+v", got, want)
	}
}

func TestEndAndAbortAreHeaderOnly(t *testing.T) {
	tr := &memTransport{}
	if err := otaproto.WriteEnd(tr); err != nil {
		t.Fatalf("WriteEnd: %v", err)
	}
	_, ptype, err := otaproto.ReadHeader(tr, time.Second)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if ptype != otaproto.PacketEnd {
		t.Fatalf("ptype = %s, want END", ptype)
	}
	if err := otaproto.ReadEndBody(tr, time.Second); err != nil {
		t.Fatalf("ReadEndBody: %v", err)
	}
	if tr.buf.Len() != 0 {
		t.Fatalf("END packet left %d trailing bytes", tr.buf.Len())
	}

	if err := otaproto.WriteAbort(tr); err != nil {
		t.Fatalf("WriteAbort: %v", err)
	}
	_, ptype, err = otaproto.ReadHeader(tr, time.Second)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if ptype != otaproto.PacketAbort {
		t.Fatalf("ptype = %s, want ABORT", ptype)
	}
	if err := otaproto.ReadAbortBody(tr, time.Second); err != nil {
		t.Fatalf("ReadAbortBody: %v", err)
	}
	if tr.buf.Len() != 0 {
		t.Fatalf("ABORT packet left %d trailing bytes", tr.buf.Len())
	}
}

func TestReadHeaderRejectsUnknownMagic(t *testing.T) {
	tr := &memTransport{}
	tr.buf.Write([]byte{0x01, 0x02, 0x03, 0x04, 0x01})
	_, _, err := otaproto.ReadHeader(tr, time.Second)
	if !errors.Is(err, otaproto.ErrBadMagic) {
		t.Fatalf("ReadHeader with bad magic: got %v, want ErrBadMagic", err)
	}
}

func TestWriteResponseRejectsNonResponseType(t *testing.T) {
	tr := &memTransport{}
	err := otaproto.WriteResponse(tr, otaproto.PacketStart, otaproto.ResponsePacket{})
	if err == nil {
		t.Fatal("expected error writing a response with a non-ACK/NACK type")
	}
}
