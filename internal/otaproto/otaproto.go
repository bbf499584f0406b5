// Package otaproto implements the OTA wire protocol: fixed-layout,
// little-endian, byte-packed packets sharing a 5-byte header (4-byte
// magic + 1-byte type), read and written over a Transport. Grounded on
// original_source's ota_protocol.h and the header-then-body read
// sequencing in ota_uart.c.
package otaproto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// Magic values distinguish START/END/ACK/NACK/ABORT headers from DATA
// headers at the wire level.
const (
	MagicStart uint32 = 0xAA55AA55
	MagicData  uint32 = 0x55AA55AA
)

// PacketType is the one-byte type field following the magic.
type PacketType uint8

const (
	PacketStart PacketType = 0x01
	PacketData  PacketType = 0x02
	PacketEnd   PacketType = 0x03
	PacketAck   PacketType = 0x04
	PacketNack  PacketType = 0x05
	PacketAbort PacketType = 0x06
)

func (t PacketType) String() string {
	switch t {
	case PacketStart:
		return "START"
	case PacketData:
		return "DATA"
	case PacketEnd:
		return "END"
	case PacketAck:
		return "ACK"
	case PacketNack:
		return "NACK"
	case PacketAbort:
		return "ABORT"
	default:
		return fmt.Sprintf("PacketType(%#02x)", uint8(t))
	}
}

// ChunkSize is the fixed DATA payload region on the wire; short final
// chunks still occupy the full region, with only the first chunk_size
// bytes meaningful.
const ChunkSize = 1024

// Bank identifies the target bank named in a START packet.
type Bank uint8

const (
	TargetBankA Bank = 0
	TargetBankB Bank = 1
)

// ErrorCode is the closed set of wire error codes carried in ACK/NACK
// bodies.
type ErrorCode uint8

const (
	ErrNone     ErrorCode = 0
	ErrCRC      ErrorCode = 1
	ErrSize     ErrorCode = 2
	ErrFlash    ErrorCode = 3
	ErrSequence ErrorCode = 4
	ErrTimeout  ErrorCode = 5
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNone:
		return "None"
	case ErrCRC:
		return "Crc"
	case ErrSize:
		return "Size"
	case ErrFlash:
		return "Flash"
	case ErrSequence:
		return "Sequence"
	case ErrTimeout:
		return "Timeout"
	default:
		return fmt.Sprintf("ErrorCode(%d)", uint8(c))
	}
}

// ErrBadMagic is returned by ReadHeader when neither known magic value is
// present; the spec treats this as a Sequence error at the session level.
var ErrBadMagic = errors.New("otaproto: invalid magic number")

// headerSize is the 5-byte magic+type common prefix of every packet.
const headerSize = 5

// StartPacket is the wire layout of the START packet body (following the
// 5-byte header): size:u32, version:u32, crc32:u32, total_chunks:u32,
// target_bank:u8.
type StartPacket struct {
	FirmwareSize    uint32
	FirmwareVersion uint32
	FirmwareCRC32   uint32
	TotalChunks     uint32
	TargetBank      Bank
}

const startBodySize = 4 + 4 + 4 + 4 + 1

// DataPacket is the wire layout of the DATA packet body: chunk_number:u32,
// chunk_size:u16, chunk_crc32:u32, data:byte[ChunkSize].
type DataPacket struct {
	ChunkNumber uint32
	ChunkSize   uint16
	ChunkCRC32  uint32
	Data        [ChunkSize]byte
}

const dataBodySize = 4 + 2 + 4 + ChunkSize

// ResponsePacket is the wire layout shared by ACK and NACK bodies:
// error_code:u8, last_chunk_received:u32.
type ResponsePacket struct {
	ErrorCode         ErrorCode
	LastChunkReceived uint32
}

const responseBodySize = 1 + 4

// Transport is what the codec needs from the underlying UART: byte I/O
// plus a per-read deadline so the header and body reads can each carry
// their own timeout, exactly as ota_uart.c's two-timeout sequencing
// requires.
type Transport interface {
	io.Reader
	io.Writer
	SetReadDeadline(t time.Time) error
}

// ReadHeader reads the 5-byte common header and returns the packet's
// magic and type. Callers dispatch on the type and then call the
// matching ReadXBody to consume the rest of the packet.
func ReadHeader(tr Transport, timeout time.Duration) (magic uint32, ptype PacketType, err error) {
	if err := tr.SetReadDeadline(deadline(timeout)); err != nil {
		return 0, 0, fmt.Errorf("otaproto: set header deadline: %w", err)
	}
	var buf [headerSize]byte
	if _, err := io.ReadFull(tr, buf[:]); err != nil {
		return 0, 0, fmt.Errorf("otaproto: read header: %w", err)
	}
	magic = binary.LittleEndian.Uint32(buf[0:4])
	ptype = PacketType(buf[4])
	if magic != MagicStart && magic != MagicData {
		return magic, ptype, ErrBadMagic
	}
	return magic, ptype, nil
}

// ReadStartBody reads and decodes the remainder of a START packet after
// its header has already been consumed.
func ReadStartBody(tr Transport, timeout time.Duration) (StartPacket, error) {
	buf, err := readBody(tr, timeout, startBodySize)
	if err != nil {
		return StartPacket{}, err
	}
	return StartPacket{
		FirmwareSize:    binary.LittleEndian.Uint32(buf[0:4]),
		FirmwareVersion: binary.LittleEndian.Uint32(buf[4:8]),
		FirmwareCRC32:   binary.LittleEndian.Uint32(buf[8:12]),
		TotalChunks:     binary.LittleEndian.Uint32(buf[12:16]),
		TargetBank:      Bank(buf[16]),
	}, nil
}

// ReadDataBody reads and decodes the remainder of a DATA packet after its
// header has already been consumed.
func ReadDataBody(tr Transport, timeout time.Duration) (DataPacket, error) {
	buf, err := readBody(tr, timeout, dataBodySize)
	if err != nil {
		return DataPacket{}, err
	}
	var pkt DataPacket
	pkt.ChunkNumber = binary.LittleEndian.Uint32(buf[0:4])
	pkt.ChunkSize = binary.LittleEndian.Uint16(buf[4:6])
	pkt.ChunkCRC32 = binary.LittleEndian.Uint32(buf[6:10])
	copy(pkt.Data[:], buf[10:10+ChunkSize])
	return pkt, nil
}

// ReadEndBody consumes the (empty) remainder of an END packet. It exists
// so END is handled symmetrically with the other kinds even though it
// has no body past the header.
func ReadEndBody(tr Transport, timeout time.Duration) error {
	_, err := readBody(tr, timeout, 0)
	return err
}

// ReadAbortBody consumes the (empty) remainder of an ABORT packet.
func ReadAbortBody(tr Transport, timeout time.Duration) error {
	_, err := readBody(tr, timeout, 0)
	return err
}

// ReadResponseBody reads and decodes an ACK/NACK body. Used by the host
// uploader, which is the receiver of responses rather than of requests.
func ReadResponseBody(tr Transport, timeout time.Duration) (ResponsePacket, error) {
	buf, err := readBody(tr, timeout, responseBodySize)
	if err != nil {
		return ResponsePacket{}, err
	}
	return ResponsePacket{
		ErrorCode:         ErrorCode(buf[0]),
		LastChunkReceived: binary.LittleEndian.Uint32(buf[1:5]),
	}, nil
}

func readBody(tr Transport, timeout time.Duration, size int) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	if err := tr.SetReadDeadline(deadline(timeout)); err != nil {
		return nil, fmt.Errorf("otaproto: set body deadline: %w", err)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(tr, buf); err != nil {
		return nil, fmt.Errorf("otaproto: read body: %w", err)
	}
	return buf, nil
}

func deadline(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

// WriteStart encodes and writes a full START packet (header + body).
func WriteStart(tr Transport, pkt StartPacket) error {
	buf := make([]byte, headerSize+startBodySize)
	putHeader(buf, MagicStart, PacketStart)
	binary.LittleEndian.PutUint32(buf[5:9], pkt.FirmwareSize)
	binary.LittleEndian.PutUint32(buf[9:13], pkt.FirmwareVersion)
	binary.LittleEndian.PutUint32(buf[13:17], pkt.FirmwareCRC32)
	binary.LittleEndian.PutUint32(buf[17:21], pkt.TotalChunks)
	buf[21] = byte(pkt.TargetBank)
	_, err := tr.Write(buf)
	return err
}

// WriteData encodes and writes a full DATA packet (header + body). The
// data region is always written at full ChunkSize; for a short final
// chunk the bytes past pkt.ChunkSize are whatever the caller left in
// pkt.Data — only the first pkt.ChunkSize bytes are meaningful.
func WriteData(tr Transport, pkt DataPacket) error {
	buf := make([]byte, headerSize+dataBodySize)
	putHeader(buf, MagicData, PacketData)
	binary.LittleEndian.PutUint32(buf[5:9], pkt.ChunkNumber)
	binary.LittleEndian.PutUint16(buf[9:11], pkt.ChunkSize)
	binary.LittleEndian.PutUint32(buf[11:15], pkt.ChunkCRC32)
	copy(buf[15:15+ChunkSize], pkt.Data[:])
	_, err := tr.Write(buf)
	return err
}

// WriteEnd encodes and writes an END packet (header only).
func WriteEnd(tr Transport) error {
	buf := make([]byte, headerSize)
	putHeader(buf, MagicStart, PacketEnd)
	_, err := tr.Write(buf)
	return err
}

// WriteAbort encodes and writes an ABORT packet (header only).
func WriteAbort(tr Transport) error {
	buf := make([]byte, headerSize)
	putHeader(buf, MagicStart, PacketAbort)
	_, err := tr.Write(buf)
	return err
}

// WriteResponse encodes and writes an ACK or NACK packet.
func WriteResponse(tr Transport, ptype PacketType, pkt ResponsePacket) error {
	if ptype != PacketAck && ptype != PacketNack {
		return fmt.Errorf("otaproto: WriteResponse requires ACK or NACK, got %s", ptype)
	}
	buf := make([]byte, headerSize+responseBodySize)
	putHeader(buf, MagicStart, ptype)
	buf[5] = byte(pkt.ErrorCode)
	binary.LittleEndian.PutUint32(buf[6:10], pkt.LastChunkReceived)
	_, err := tr.Write(buf)
	return err
}

func putHeader(buf []byte, magic uint32, ptype PacketType) {
	binary.LittleEndian.PutUint32(buf[0:4], magic)
	buf[4] = byte(ptype)
}
