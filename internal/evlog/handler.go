package evlog

import (
	"context"
	"io"
	"log/slog"
)

// Handler is a slog.Handler that bridges every record to both a text
// handler over the debug UART and the local ring buffer, adapted from
// the teacher's telemetry.SlogHandler minus the OTLP network path.
type Handler struct {
	text  slog.Handler
	log   *Log
	group string
}

// NewHandler returns a Handler writing human-readable text to w and
// queuing every record into log.
func NewHandler(w io.Writer, log *Log, opts *slog.HandlerOptions) *Handler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &Handler{
		text: slog.NewTextHandler(w, opts),
		log:  log,
	}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.text.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	err := h.text.Handle(ctx, r)

	sev := levelToSeverity(r.Level)
	msg := buildMessage(h.group, r)

	var chunk uint32
	hasChunk := false
	var errCode uint8
	hasErrCode := false
	r.Attrs(func(a slog.Attr) bool {
		switch a.Key {
		case "chunk":
			if a.Value.Kind() == slog.KindUint64 {
				chunk = uint32(a.Value.Uint64())
				hasChunk = true
			} else if a.Value.Kind() == slog.KindInt64 {
				chunk = uint32(a.Value.Int64())
				hasChunk = true
			}
		case "error":
			if a.Value.Kind() == slog.KindUint64 {
				errCode = uint8(a.Value.Uint64())
				hasErrCode = true
			}
		}
		return true
	})

	switch {
	case hasChunk:
		h.log.LogChunk(sev, msg, chunk)
	case hasErrCode:
		h.log.LogError(sev, msg, errCode)
	default:
		h.log.Log(sev, msg)
	}
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{
		text:  h.text.WithAttrs(attrs),
		log:   h.log,
		group: h.group,
	}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &Handler{text: h.text.WithGroup(name), log: h.log, group: group}
}

func levelToSeverity(level slog.Level) Severity {
	switch {
	case level >= slog.LevelError:
		return SeverityError
	case level >= slog.LevelWarn:
		return SeverityWarn
	case level >= slog.LevelInfo:
		return SeverityInfo
	default:
		return SeverityDebug
	}
}

// buildMessage composes a compact "group:msg" string, truncated to the
// ring buffer's body capacity by Log.push; attributes beyond chunk/error
// are carried by the text handler only.
func buildMessage(group string, r slog.Record) string {
	if group == "" {
		return r.Message
	}
	return group + ":" + r.Message
}
