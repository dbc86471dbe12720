// Package log writes the world's append-only JSONL streams. Each stream is a
// directory of zstd files, one per UTC hour. Lines are grouped into
// independent zstd frames of a bounded number of lines, so a crash loses only
// the frame still open and a restart inside the same hour appends new frames
// to the existing file.
package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"regionsync.io/internal/sim/interest/diag"
	"regionsync.io/internal/sim/world"
)

const (
	hourLayout = "2006-01-02-15"

	// Lines per zstd frame unless a logger says otherwise.
	defaultFrameLines = 256
)

// Stream is one hourly-rotated JSONL.zst stream. It is safe for concurrent
// use.
type Stream struct {
	dir        string
	prefix     string
	frameLines int
	now        func() time.Time

	mu      sync.Mutex
	hour    string
	f       *os.File
	enc     *zstd.Encoder
	buf     *bufio.Writer
	pending int
}

func NewStream(dir, prefix string) *Stream {
	return &Stream{dir: dir, prefix: prefix, frameLines: defaultFrameLines, now: time.Now}
}

// Write appends v as one JSON line, opening the current hour's file first
// when the hour changed.
func (s *Stream) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s: encode: %w", s.prefix, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if hour := s.now().UTC().Format(hourLayout); hour != s.hour {
		if err := s.openLocked(hour); err != nil {
			return err
		}
	}
	if _, err := s.buf.Write(b); err != nil {
		return err
	}
	if err := s.buf.WriteByte('\n'); err != nil {
		return err
	}
	s.pending++
	if s.pending >= s.frameLines {
		return s.endFrameLocked()
	}
	return nil
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

func (s *Stream) endFrameLocked() error {
	if s.enc == nil || s.pending == 0 {
		return nil
	}
	if err := s.buf.Flush(); err != nil {
		return err
	}
	if err := s.enc.Close(); err != nil {
		return err
	}
	s.enc.Reset(s.f)
	s.pending = 0
	return nil
}

func (s *Stream) openLocked(hour string) error {
	if err := s.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	s.f, s.enc, s.hour = f, enc, hour
	s.buf = bufio.NewWriterSize(enc, 64*1024)
	return nil
}

func (s *Stream) closeLocked() error {
	if s.f == nil {
		return nil
	}
	err := s.endFrameLocked()
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	s.f, s.enc, s.buf, s.hour = nil, nil, nil, ""
	return err
}

func (s *Stream) path(hour string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s-%s.jsonl.zst", s.prefix, hour))
}

// TickLogger writes one line per tick.
type TickLogger struct{ s *Stream }

func NewTickLogger(worldDir string) *TickLogger {
	return &TickLogger{s: NewStream(filepath.Join(worldDir, "ticks"), "ticks")}
}

func (l *TickLogger) WriteTick(v world.TickLogEntry) error { return l.s.Write(v) }
func (l *TickLogger) Close() error                         { return l.s.Close() }

// DiagnosticsLogger writes one line per engine diagnostic. Diagnostics are
// rare, so every line closes its frame.
type DiagnosticsLogger struct{ s *Stream }

func NewDiagnosticsLogger(worldDir string) *DiagnosticsLogger {
	s := NewStream(filepath.Join(worldDir, "diagnostics"), "diagnostics")
	s.frameLines = 1
	return &DiagnosticsLogger{s: s}
}

func (l *DiagnosticsLogger) WriteDiagnostic(d diag.Diagnostic) error { return l.s.Write(d) }
func (l *DiagnosticsLogger) Close() error                            { return l.s.Close() }
