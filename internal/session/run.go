package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/seanshnkim/otaflash/internal/otaproto"
)

// timeouter is satisfied by the timeout errors produced by real
// transports (net.Error and friends). A header-read timeout is silent
// and non-fatal; the loop simply waits for the next packet.
type timeouter interface {
	Timeout() bool
}

func isTimeout(err error) bool {
	var t timeouter
	if errors.As(err, &t) {
		return t.Timeout()
	}
	return false
}

// Run drives the OTA receive loop over tr until the session reaches
// COMPLETE (returns nil) or the transport fails unrecoverably (returns a
// non-nil error). Header-read timeouts loop back silently; a malformed
// header (bad magic) is treated as a terminal Sequence error, matching
// the wire contract that any magic outside the two known literals is a
// framing violation. Unknown packet types are logged and otherwise
// ignored, inherited from the original firmware's own handling of that
// case.
func (s *Session) Run(tr otaproto.Transport, headerTimeout, dataBodyTimeout time.Duration) error {
	for {
		_, ptype, err := otaproto.ReadHeader(tr, headerTimeout)
		if err != nil {
			if errors.Is(err, otaproto.ErrBadMagic) {
				s.errorCode = otaproto.ErrSequence
				s.state = StateError
				s.log.Error("bad magic in header, session terminal until reset")
				_ = otaproto.WriteResponse(tr, otaproto.PacketNack, otaproto.ResponsePacket{
					ErrorCode:         otaproto.ErrSequence,
					LastChunkReceived: s.chunksReceived,
				})
				continue
			}
			if isTimeout(err) {
				continue
			}
			return fmt.Errorf("session: run: %w", err)
		}

		switch ptype {
		case otaproto.PacketStart:
			pkt, err := otaproto.ReadStartBody(tr, headerTimeout)
			if err != nil {
				if isTimeout(err) {
					continue
				}
				return fmt.Errorf("session: run: read START body: %w", err)
			}
			respType, resp := s.HandleStart(pkt)
			if err := otaproto.WriteResponse(tr, respType, resp); err != nil {
				return fmt.Errorf("session: run: write START response: %w", err)
			}

		case otaproto.PacketData:
			pkt, err := otaproto.ReadDataBody(tr, dataBodyTimeout)
			if err != nil {
				if isTimeout(err) {
					continue
				}
				return fmt.Errorf("session: run: read DATA body: %w", err)
			}
			respType, resp := s.HandleData(pkt)
			if err := otaproto.WriteResponse(tr, respType, resp); err != nil {
				return fmt.Errorf("session: run: write DATA response: %w", err)
			}

		case otaproto.PacketEnd:
			if err := otaproto.ReadEndBody(tr, headerTimeout); err != nil {
				if isTimeout(err) {
					continue
				}
				return fmt.Errorf("session: run: read END body: %w", err)
			}
			respType, resp := s.HandleEnd()
			if err := otaproto.WriteResponse(tr, respType, resp); err != nil {
				return fmt.Errorf("session: run: write END response: %w", err)
			}
			if s.state == StateComplete {
				return nil
			}

		case otaproto.PacketAbort:
			if err := otaproto.ReadAbortBody(tr, headerTimeout); err != nil {
				if isTimeout(err) {
					continue
				}
				return fmt.Errorf("session: run: read ABORT body: %w", err)
			}
			s.HandleAbort()

		default:
			s.log.Warn("unknown packet type received", "type", ptype)
		}
	}
}
