package main

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/term"

	"github.com/seanshnkim/otaflash/internal/crcengine"
	"github.com/seanshnkim/otaflash/internal/otaproto"
)

// isInteractive reports whether stdout is a terminal, so progress can be
// drawn as a carriage-return-updated bar rather than spamming a log file
// or pipe with one line per chunk.
func isInteractive() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// pushResult summarizes a completed upload for the caller to report; a
// failed upload returns the zero value alongside its error.
type pushResult struct {
	FirmwareSize uint32
	TotalChunks  uint32
	Duration     time.Duration
}

// pushFirmware drives one full OTA session over tr: START, every DATA
// chunk in order, then END, sending each DATA chunk at most
// maxChunkRetries times in all while the device NACKs it with a CRC or
// Sequence error, and flipping the target bank once if the device NACKs
// START with a Sequence error (it disagrees about which bank is currently
// inactive). A rejected START leaves the device in ERROR, so an ABORT is
// sent first to return it to IDLE before the other bank is tried.
func pushFirmware(logger *log.Logger, tr otaproto.Transport, fw []byte, version uint32, headerTimeout, dataTimeout time.Duration) (pushResult, error) {
	start := time.Now()
	crc := crcengine.NewSoftware()
	firmwareCRC := crcengine.Compute(crc, fw)
	totalChunks := uint32((len(fw) + otaproto.ChunkSize - 1) / otaproto.ChunkSize)

	banks := []otaproto.Bank{otaproto.TargetBankB, otaproto.TargetBankA}
	var lastErr error
	for _, bank := range banks {
		if err := doStart(tr, fw, version, firmwareCRC, totalChunks, bank, headerTimeout); err != nil {
			lastErr = err
			if resp, ok := err.(*nackError); ok && resp.code == otaproto.ErrSequence {
				logger.Warn("device disagrees about target bank, retrying with the other one", "tried", bank)
				if err := otaproto.WriteAbort(tr); err != nil {
					return pushResult{}, fmt.Errorf("ota-host: write ABORT: %w", err)
				}
				continue
			}
			return pushResult{}, err
		}
		lastErr = nil
		logger.Info("START accepted", "target_bank", bank, "total_chunks", totalChunks)
		break
	}
	if lastErr != nil {
		return pushResult{}, fmt.Errorf("ota-host: START rejected for both banks: %w", lastErr)
	}

	for i := uint32(0); i < totalChunks; i++ {
		if err := sendChunk(tr, crc, fw, i, totalChunks, dataTimeout); err != nil {
			return pushResult{}, fmt.Errorf("ota-host: chunk %d: %w", i, err)
		}
		printProgress(i+1, totalChunks)
	}
	fmt.Println()

	if err := otaproto.WriteEnd(tr); err != nil {
		return pushResult{}, fmt.Errorf("ota-host: write END: %w", err)
	}
	if err := readResponse(tr, headerTimeout); err != nil {
		return pushResult{}, fmt.Errorf("ota-host: END rejected: %w", err)
	}

	return pushResult{
		FirmwareSize: uint32(len(fw)),
		TotalChunks:  totalChunks,
		Duration:     time.Since(start),
	}, nil
}

// nackError reports a NACK's wire ErrorCode so callers can branch on it
// (the bank-retry logic above needs to distinguish Sequence from a fatal
// failure).
type nackError struct {
	code otaproto.ErrorCode
}

func (e *nackError) Error() string {
	return fmt.Sprintf("ota-host: device NACKed: %s", e.code)
}

func doStart(tr otaproto.Transport, fw []byte, version, firmwareCRC uint32, totalChunks uint32, bank otaproto.Bank, timeout time.Duration) error {
	pkt := otaproto.StartPacket{
		FirmwareSize:    uint32(len(fw)),
		FirmwareVersion: version,
		FirmwareCRC32:   firmwareCRC,
		TotalChunks:     totalChunks,
		TargetBank:      bank,
	}
	if err := otaproto.WriteStart(tr, pkt); err != nil {
		return fmt.Errorf("write START: %w", err)
	}
	return readResponse(tr, timeout)
}

const maxChunkRetries = 3

func sendChunk(tr otaproto.Transport, crc crcengine.Engine, fw []byte, chunkNumber, totalChunks uint32, timeout time.Duration) error {
	offset := chunkNumber * otaproto.ChunkSize
	end := offset + otaproto.ChunkSize
	if end > uint32(len(fw)) {
		end = uint32(len(fw))
	}
	chunkSize := end - offset

	var pkt otaproto.DataPacket
	pkt.ChunkNumber = chunkNumber
	pkt.ChunkSize = uint16(chunkSize)
	copy(pkt.Data[:], fw[offset:end])
	pkt.ChunkCRC32 = crcengine.Compute(crc, pkt.Data[:chunkSize])

	var lastErr error
	for attempt := 0; attempt < maxChunkRetries; attempt++ {
		if err := otaproto.WriteData(tr, pkt); err != nil {
			return fmt.Errorf("write DATA: %w", err)
		}
		err := readResponse(tr, timeout)
		if err == nil {
			return nil
		}
		if nack, ok := err.(*nackError); ok && (nack.code == otaproto.ErrCRC || nack.code == otaproto.ErrSequence) {
			lastErr = err
			continue
		}
		return err
	}
	return fmt.Errorf("gave up after %d attempts: %w", maxChunkRetries, lastErr)
}

func readResponse(tr otaproto.Transport, timeout time.Duration) error {
	_, ptype, err := otaproto.ReadHeader(tr, timeout)
	if err != nil {
		return fmt.Errorf("read response header: %w", err)
	}
	resp, err := otaproto.ReadResponseBody(tr, timeout)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if ptype != otaproto.PacketAck {
		return &nackError{code: resp.ErrorCode}
	}
	return nil
}

func printProgress(done, total uint32) {
	pct := done * 100 / total
	if isInteractive() {
		fmt.Fprintf(os.Stdout, "\r[%3d%%] chunk %d/%d", pct, done, total)
		return
	}
	fmt.Fprintf(os.Stdout, "[%3d%%] chunk %d/%d\n", pct, done, total)
}
