// Package bootrecord persists the active-bank boot record: which flash
// bank (A or B) the bootloader should jump to, and whether each bank
// currently holds a valid, a testing, or an invalid image. The record is
// a single flash-backed struct guarded by a magic number and a CRC-32
// computed with the field itself zeroed out, so a torn or mid-erase write
// is detected as corrupt rather than trusted. Grounded on
// original_source's boot_state.h/boot_state.c.
package bootrecord

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/seanshnkim/otaflash/internal/crcengine"
	"github.com/seanshnkim/otaflash/internal/flashdrv"
)

// Bank identifies one of the two firmware banks.
type Bank uint32

const (
	BankA       Bank = 0x00000000
	BankB       Bank = 0x00000001
	BankInvalid Bank = 0xFFFFFFFF
)

// Status is the validity state of a bank's contents.
type Status uint32

const (
	StatusInvalid Status = 0x00000000
	StatusValid   Status = 0x00000001
	StatusTesting Status = 0x00000002
)

// magic identifies a genuine boot record versus erased (all-0xFF) or
// otherwise uninitialized flash.
const magic = 0xDEADBEEF

// recordSize is the on-flash, word-aligned layout size: 5 uint32 fields.
const recordSize = 20

// ErrInvalidMagic is returned by Read when the stored magic number does
// not match, meaning the sector has never been written or was erased.
var ErrInvalidMagic = errors.New("bootrecord: invalid magic number")

// ErrCorrupted is returned by Read when the magic number matches but the
// stored CRC does not, meaning the record was torn by a power loss
// mid-write.
var ErrCorrupted = errors.New("bootrecord: CRC mismatch")

// Record is the in-memory representation of the boot record.
type Record struct {
	BankAStatus Status
	BankBStatus Status
	ActiveBank  Bank
}

// Store wraps a flash region and a CRC engine scoped to the boot record
// sector.
type Store struct {
	flash   flashdrv.Flash
	crc     crcengine.Engine
	address uint32
}

// NewStore returns a Store that reads and writes the boot record at
// address within flash.
func NewStore(flash flashdrv.Flash, crc crcengine.Engine, address uint32) *Store {
	return &Store{flash: flash, crc: crc, address: address}
}

// Read decodes and validates the boot record from raw, the bytes the
// caller read from the record's address. It returns ErrInvalidMagic if
// the sector looks erased/uninitialized, or ErrCorrupted if the magic
// matches but the CRC does not (a torn write).
func (s *Store) Read(raw []byte) (Record, error) {
	if len(raw) < recordSize {
		return Record{}, fmt.Errorf("bootrecord: short read, got %d bytes want %d", len(raw), recordSize)
	}
	gotMagic := binary.LittleEndian.Uint32(raw[0:4])
	if gotMagic != magic {
		return Record{}, ErrInvalidMagic
	}

	storedCRC := binary.LittleEndian.Uint32(raw[16:20])
	zeroed := make([]byte, recordSize)
	copy(zeroed, raw)
	binary.LittleEndian.PutUint32(zeroed[16:20], 0)
	computed := crcengine.Compute(s.crc, zeroed)
	if computed != storedCRC {
		return Record{}, ErrCorrupted
	}

	return Record{
		BankAStatus: Status(binary.LittleEndian.Uint32(raw[4:8])),
		BankBStatus: Status(binary.LittleEndian.Uint32(raw[8:12])),
		ActiveBank:  Bank(binary.LittleEndian.Uint32(raw[12:16])),
	}, nil
}

// Encode serializes r into its on-flash layout, computing the CRC over
// the record with the crc32 field itself held at zero, exactly mirroring
// boot_state_write's "zero the field, compute, restore" sequence (here
// there is nothing to restore — the field only ever exists as the
// computed value in the output).
func (s *Store) Encode(r Record) []byte {
	buf := make([]byte, recordSize)
	binary.LittleEndian.PutUint32(buf[0:4], magic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(r.BankAStatus))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(r.BankBStatus))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(r.ActiveBank))
	binary.LittleEndian.PutUint32(buf[16:20], 0)

	crc := crcengine.Compute(s.crc, buf)
	binary.LittleEndian.PutUint32(buf[16:20], crc)
	return buf
}

// Write erases the boot record sector and programs the encoded record.
// Erase-before-program is unconditional: the boot record sector has no
// other tenants, so there is never a reason to preserve its prior
// contents.
func (s *Store) Write(r Record) error {
	if err := s.flash.EraseSectors(s.address, s.flash.SectorSize()); err != nil {
		return fmt.Errorf("bootrecord: erase: %w", err)
	}
	if err := s.flash.Program(s.address, s.Encode(r)); err != nil {
		return fmt.Errorf("bootrecord: program: %w", err)
	}
	return nil
}

// BankAddress returns the fixed flash base address for bank b.
func BankAddress(b Bank, bankAAddr, bankBAddr uint32) (uint32, error) {
	switch b {
	case BankA:
		return bankAAddr, nil
	case BankB:
		return bankBAddr, nil
	default:
		return 0, fmt.Errorf("bootrecord: no address for bank %#x", uint32(b))
	}
}

// Inactive returns the bank that is not currently active, the one a new
// OTA session should target.
func Inactive(active Bank) Bank {
	if active == BankA {
		return BankB
	}
	return BankA
}
