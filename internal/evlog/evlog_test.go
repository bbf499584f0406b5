package evlog

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func fakeClock(t *int64) func() int64 {
	return func() int64 {
		*t++
		return *t
	}
}

func TestLogFlushProducesOneJSONLinePerEvent(t *testing.T) {
	var clock int64
	l := New(8, fakeClock(&clock))
	l.Log(SeverityInfo, "session idle")
	l.LogChunk(SeverityWarn, "chunk nacked", 3)
	l.LogError(SeverityError, "flash write failed", 3)

	var buf bytes.Buffer
	if err := l.Flush(&buf); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("want 3 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], `"msg":"session idle"`) {
		t.Errorf("line 0 missing message: %s", lines[0])
	}
	if !strings.Contains(lines[1], `"chunk":3`) {
		t.Errorf("line 1 missing chunk: %s", lines[1])
	}
	if !strings.Contains(lines[2], `"error_code":3`) {
		t.Errorf("line 2 missing error_code: %s", lines[2])
	}
	if l.Len() != 0 {
		t.Errorf("Flush should drain the ring, len = %d", l.Len())
	}
}

func TestRingOverwritesOldestWhenFull(t *testing.T) {
	var clock int64
	l := New(2, fakeClock(&clock))
	l.Log(SeverityInfo, "one")
	l.Log(SeverityInfo, "two")
	l.Log(SeverityInfo, "three")

	if l.Dropped() != 1 {
		t.Fatalf("want 1 dropped, got %d", l.Dropped())
	}
	events := l.Drain()
	if len(events) != 2 {
		t.Fatalf("want 2 surviving events, got %d", len(events))
	}
	if events[0].Message() != "two" || events[1].Message() != "three" {
		t.Errorf("want [two three], got [%s %s]", events[0].Message(), events[1].Message())
	}
}

func TestLongMessageTruncatedNotAllocated(t *testing.T) {
	var clock int64
	l := New(1, fakeClock(&clock))
	long := strings.Repeat("x", maxBody+50)
	l.Log(SeverityDebug, long)
	events := l.Drain()
	if len(events[0].Message()) != maxBody {
		t.Errorf("want truncation to %d bytes, got %d", maxBody, len(events[0].Message()))
	}
}

func TestHandlerBridgesToTextAndLog(t *testing.T) {
	var clock int64
	ring := New(8, fakeClock(&clock))
	var text bytes.Buffer
	h := NewHandler(&text, ring, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(h)

	logger.Info("chunk accepted", slog.Uint64("chunk", 5))
	logger.Error("flash program failed", slog.Uint64("error", 3))

	if !strings.Contains(text.String(), "chunk accepted") {
		t.Errorf("text handler missing entry: %s", text.String())
	}
	events := ring.Drain()
	if len(events) != 2 {
		t.Fatalf("want 2 queued events, got %d", len(events))
	}
	if !events[0].HasChunk || events[0].Chunk != 5 {
		t.Errorf("first event should carry chunk=5, got %+v", events[0])
	}
	if !events[1].HasErrorCode || events[1].ErrorCode != 3 {
		t.Errorf("second event should carry error_code=3, got %+v", events[1])
	}
}
