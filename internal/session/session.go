// Package session implements the OTA protocol's core state machine:
// IDLE → RECEIVING_DATA → VERIFYING → FINALIZING → COMPLETE, with ERROR
// reachable from anywhere and ABORT always resetting to IDLE. Grounded on
// original_source's ota_manager.c (ota_process_start_packet,
// ota_process_data_packet, ota_process_end_packet, ota_update_boot_state),
// adopting the bootloader variant's stricter "non-last chunk must be full
// size" rule per the spec's resolution of that ambiguity.
package session

import (
	"fmt"
	"log/slog"

	"github.com/seanshnkim/otaflash/internal/bootrecord"
	"github.com/seanshnkim/otaflash/internal/crcengine"
	"github.com/seanshnkim/otaflash/internal/flashdrv"
	"github.com/seanshnkim/otaflash/internal/otaproto"
)

// State is one phase of the session lifecycle.
type State int

const (
	StateIdle State = iota
	StateReceivingData
	StateVerifying
	StateFinalizing
	StateComplete
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateReceivingData:
		return "RECEIVING_DATA"
	case StateVerifying:
		return "VERIFYING"
	case StateFinalizing:
		return "FINALIZING"
	case StateComplete:
		return "COMPLETE"
	case StateError:
		return "ERROR"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config carries the fixed addressing and sizing facts the session needs
// to validate packets and address flash; these come from the external
// configuration constants in the spec (BANK_SIZE, bank addresses).
type Config struct {
	BankAAddress uint32
	BankBAddress uint32
	BankSize     uint32
}

// Session is the state machine. It owns no I/O directly — Run drives a
// Transport, but HandleStart/HandleData/HandleEnd/HandleAbort can also be
// called directly by tests without any transport at all.
type Session struct {
	flash flashdrv.Flash
	crc   crcengine.Engine
	boot  *bootrecord.Store
	cfg   Config
	log   *slog.Logger

	state          State
	activeBank     bootrecord.Bank
	targetBank     bootrecord.Bank
	targetBankAddr uint32

	firmwareSize    uint32
	firmwareVersion uint32
	firmwareCRC32   uint32
	totalChunks     uint32

	chunksReceived      uint32
	expectedChunkNumber uint32
	bytesWritten        uint32

	errorCode otaproto.ErrorCode
}

// New returns a Session in IDLE, with activeBank as recorded by the boot
// record at construction time (the outer "enter OTA mode" dispatcher is
// responsible for having read it).
func New(flash flashdrv.Flash, crc crcengine.Engine, boot *bootrecord.Store, cfg Config, activeBank bootrecord.Bank, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		flash:      flash,
		crc:        crc,
		boot:       boot,
		cfg:        cfg,
		activeBank: activeBank,
		log:        log,
	}
}

// State reports the current phase.
func (s *Session) State() State { return s.state }

// ActiveBank reports the bank the boot record currently names active.
func (s *Session) ActiveBank() bootrecord.Bank { return s.activeBank }

// ErrorCode reports the last failure's wire code; only meaningful when
// State() == StateError.
func (s *Session) ErrorCode() otaproto.ErrorCode { return s.errorCode }

func ceilDivChunks(size uint32, chunkSize uint32) uint32 {
	return (size + chunkSize - 1) / chunkSize
}

func wireBank(b otaproto.Bank) bootrecord.Bank {
	if b == otaproto.TargetBankB {
		return bootrecord.BankB
	}
	return bootrecord.BankA
}

// HandleStart validates and processes a START packet. On success the
// machine moves IDLE → RECEIVING_DATA and the target bank is erased. On
// any failure the machine moves to ERROR; a sender whose session failed
// at START must restart from scratch.
func (s *Session) HandleStart(pkt otaproto.StartPacket) (otaproto.PacketType, otaproto.ResponsePacket) {
	fail := func(code otaproto.ErrorCode) (otaproto.PacketType, otaproto.ResponsePacket) {
		s.errorCode = code
		s.state = StateError
		s.log.Warn("START rejected", "error", code, "state", s.state)
		return otaproto.PacketNack, otaproto.ResponsePacket{ErrorCode: code, LastChunkReceived: s.chunksReceived}
	}

	if s.state != StateIdle {
		return fail(otaproto.ErrSequence)
	}
	if pkt.FirmwareSize == 0 || pkt.FirmwareSize > s.cfg.BankSize {
		return fail(otaproto.ErrSize)
	}
	if pkt.TotalChunks != ceilDivChunks(pkt.FirmwareSize, otaproto.ChunkSize) {
		return fail(otaproto.ErrSize)
	}

	inactive := bootrecord.Inactive(s.activeBank)
	if wireBank(pkt.TargetBank) != inactive {
		return fail(otaproto.ErrSequence)
	}
	targetAddr, err := bootrecord.BankAddress(inactive, s.cfg.BankAAddress, s.cfg.BankBAddress)
	if err != nil {
		return fail(otaproto.ErrSequence)
	}

	if err := s.flash.EraseSectors(targetAddr, s.cfg.BankSize); err != nil {
		return fail(otaproto.ErrFlash)
	}

	s.targetBank = inactive
	s.targetBankAddr = targetAddr
	s.firmwareSize = pkt.FirmwareSize
	s.firmwareVersion = pkt.FirmwareVersion
	s.firmwareCRC32 = pkt.FirmwareCRC32
	s.totalChunks = pkt.TotalChunks
	s.chunksReceived = 0
	s.expectedChunkNumber = 0
	s.bytesWritten = 0
	s.errorCode = otaproto.ErrNone
	s.state = StateReceivingData

	s.log.Info("START accepted", "firmware_size", pkt.FirmwareSize, "total_chunks", pkt.TotalChunks, "target_bank", s.targetBank)
	return otaproto.PacketAck, otaproto.ResponsePacket{ErrorCode: otaproto.ErrNone, LastChunkReceived: 0}
}

// HandleData validates and processes a DATA packet. Sequence and CRC
// mismatches are non-fatal: the machine stays in RECEIVING_DATA and the
// sender is expected to retransmit the same expected chunk. Size
// mismatches and flash errors are fatal.
func (s *Session) HandleData(pkt otaproto.DataPacket) (otaproto.PacketType, otaproto.ResponsePacket) {
	nack := func(code otaproto.ErrorCode) (otaproto.PacketType, otaproto.ResponsePacket) {
		s.errorCode = code
		s.log.Warn("DATA nacked, retry expected", "error", code, "chunk", pkt.ChunkNumber)
		return otaproto.PacketNack, otaproto.ResponsePacket{ErrorCode: code, LastChunkReceived: s.chunksReceived}
	}
	fail := func(code otaproto.ErrorCode) (otaproto.PacketType, otaproto.ResponsePacket) {
		s.errorCode = code
		s.state = StateError
		s.log.Error("DATA fatal error", "error", code, "chunk", pkt.ChunkNumber)
		return otaproto.PacketNack, otaproto.ResponsePacket{ErrorCode: code, LastChunkReceived: s.chunksReceived}
	}

	if s.state != StateReceivingData {
		return fail(otaproto.ErrSequence)
	}
	if pkt.ChunkNumber != s.expectedChunkNumber {
		return nack(otaproto.ErrSequence)
	}
	if pkt.ChunkSize == 0 || pkt.ChunkSize > otaproto.ChunkSize {
		return fail(otaproto.ErrSize)
	}
	isLastChunk := pkt.ChunkNumber == s.totalChunks-1
	if !isLastChunk && pkt.ChunkSize != otaproto.ChunkSize {
		return fail(otaproto.ErrSize)
	}

	computed := crcengine.Compute(s.crc, pkt.Data[:pkt.ChunkSize])
	if computed != pkt.ChunkCRC32 {
		return nack(otaproto.ErrCRC)
	}

	writeAddr := s.targetBankAddr + pkt.ChunkNumber*otaproto.ChunkSize
	if err := s.flash.Program(writeAddr, pkt.Data[:pkt.ChunkSize]); err != nil {
		return fail(otaproto.ErrFlash)
	}

	s.chunksReceived++
	s.expectedChunkNumber++
	s.bytesWritten += uint32(pkt.ChunkSize)
	s.errorCode = otaproto.ErrNone

	if s.chunksReceived == s.totalChunks {
		s.state = StateVerifying
		s.log.Info("all chunks received, moving to VERIFYING")
	}
	return otaproto.PacketAck, otaproto.ResponsePacket{ErrorCode: otaproto.ErrNone, LastChunkReceived: s.chunksReceived}
}

// HandleEnd validates total size and the whole-image CRC, commits the
// boot record bank swap, and moves VERIFYING → FINALIZING → COMPLETE.
func (s *Session) HandleEnd() (otaproto.PacketType, otaproto.ResponsePacket) {
	fail := func(code otaproto.ErrorCode) (otaproto.PacketType, otaproto.ResponsePacket) {
		s.errorCode = code
		s.state = StateError
		s.log.Error("END fatal error", "error", code)
		return otaproto.PacketNack, otaproto.ResponsePacket{ErrorCode: code, LastChunkReceived: s.chunksReceived}
	}

	if s.state != StateVerifying {
		return fail(otaproto.ErrSequence)
	}
	if s.bytesWritten != s.firmwareSize {
		return fail(otaproto.ErrSize)
	}

	computed, err := ComputeFirmwareCRC(s.flash, s.crc, s.targetBankAddr, s.firmwareSize)
	if err != nil {
		return fail(otaproto.ErrFlash)
	}
	if computed != s.firmwareCRC32 {
		return fail(otaproto.ErrCRC)
	}

	s.state = StateFinalizing
	newRecord := bootrecord.Record{ActiveBank: s.targetBank}
	if s.targetBank == bootrecord.BankA {
		newRecord.BankAStatus = bootrecord.StatusValid
		newRecord.BankBStatus = bootrecord.StatusInvalid
	} else {
		newRecord.BankAStatus = bootrecord.StatusInvalid
		newRecord.BankBStatus = bootrecord.StatusValid
	}
	if err := s.boot.Write(newRecord); err != nil {
		return fail(otaproto.ErrFlash)
	}

	s.activeBank = s.targetBank
	s.errorCode = otaproto.ErrNone
	s.state = StateComplete
	s.log.Info("OTA complete", "active_bank", s.activeBank, "firmware_version", s.firmwareVersion)
	return otaproto.PacketAck, otaproto.ResponsePacket{ErrorCode: otaproto.ErrNone, LastChunkReceived: s.chunksReceived}
}

// HandleAbort resets the machine to IDLE from any state. No response is
// ever sent for ABORT.
func (s *Session) HandleAbort() {
	s.log.Info("ABORT received, resetting to IDLE", "previous_state", s.state)
	s.state = StateIdle
	s.targetBank = 0
	s.targetBankAddr = 0
	s.firmwareSize = 0
	s.firmwareVersion = 0
	s.firmwareCRC32 = 0
	s.totalChunks = 0
	s.chunksReceived = 0
	s.expectedChunkNumber = 0
	s.bytesWritten = 0
	s.errorCode = otaproto.ErrNone
}

// ComputeFirmwareCRC streams size bytes from addr through crc in buffered
// segments, matching ota_calculate_firmware_crc32's chunked Accumulate
// loop over memory-mapped flash.
func ComputeFirmwareCRC(flash flashdrv.Flash, crc crcengine.Engine, addr uint32, size uint32) (uint32, error) {
	const bufferSize = 1024
	crc.Reset()
	var offset uint32
	for offset < size {
		n := size - offset
		if n > bufferSize {
			n = bufferSize
		}
		buf, err := flash.Read(addr+offset, n)
		if err != nil {
			return 0, fmt.Errorf("session: read flash for CRC: %w", err)
		}
		full := len(buf) - len(buf)%4
		if full > 0 {
			crcengine.FeedBytesAsWords(crc, buf[:full])
		}
		if full < len(buf) {
			crc.FeedTrailing(buf[full:])
		}
		offset += n
	}
	return crc.Read(), nil
}
