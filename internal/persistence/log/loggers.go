// Package log holds the durable JSONL sinks: one line per committed tick
// and one line per delivered event, zstd-compressed and rotated hourly.
// The tick files are the replay source of truth.
package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"aldea.world/internal/sim/engine"
)

type JSONLZstdWriter struct {
	baseDir string
	prefix  string

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := time.Now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// TickLogger persists one entry per committed tick. Writes happen on an
// internal goroutine so the loop never waits on disk; a full buffer blocks
// the sender instead of dropping, because a gap in the tick log breaks
// replay.
type TickLogger struct {
	w  *JSONLZstdWriter
	ch chan engine.TickLogEntry
	wg sync.WaitGroup

	once      sync.Once
	closed    atomic.Bool
	writeErrs atomic.Uint64
}

func NewTickLogger(worldDir string) *TickLogger {
	l := &TickLogger{
		w:  NewJSONLZstdWriter(filepath.Join(worldDir, "ticks"), "ticks"),
		ch: make(chan engine.TickLogEntry, 256),
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for e := range l.ch {
			if err := l.w.Write(e); err != nil {
				l.writeErrs.Add(1)
			}
		}
	}()
	return l
}

func (l *TickLogger) LogTick(entry engine.TickLogEntry) {
	if l == nil || l.closed.Load() {
		return
	}
	l.ch <- entry
}

// WriteErrors reports how many entries failed to reach disk.
func (l *TickLogger) WriteErrors() uint64 { return l.writeErrs.Load() }

func (l *TickLogger) Close() error {
	var err error
	l.once.Do(func() {
		l.closed.Store(true)
		close(l.ch)
		l.wg.Wait()
		err = l.w.Close()
	})
	return err
}

// EventLine is the on-disk shape of one delivered event.
type EventLine struct {
	WorldID string `json:"world_id"`
	Tick    uint64 `json:"tick"`
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// EventLogger persists every delivered event. Unlike the tick log this
// stream is best effort: a full buffer drops the batch and counts it.
type EventLogger struct {
	w  *JSONLZstdWriter
	ch chan []EventLine
	wg sync.WaitGroup

	once      sync.Once
	closed    atomic.Bool
	dropped   atomic.Uint64
	writeErrs atomic.Uint64
}

func NewEventLogger(worldDir string) *EventLogger {
	l := &EventLogger{
		w:  NewJSONLZstdWriter(filepath.Join(worldDir, "events"), "events"),
		ch: make(chan []EventLine, 256),
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for batch := range l.ch {
			for _, line := range batch {
				if err := l.w.Write(line); err != nil {
					l.writeErrs.Add(1)
				}
			}
		}
	}()
	return l
}

func (l *EventLogger) LogEvents(worldID string, tick uint64, events []engine.Event) {
	if l == nil || l.closed.Load() || len(events) == 0 {
		return
	}
	batch := make([]EventLine, len(events))
	for i, ev := range events {
		batch[i] = EventLine{WorldID: worldID, Tick: ev.Tick, Type: ev.Type, Payload: ev.Payload}
	}
	select {
	case l.ch <- batch:
	default:
		l.dropped.Add(uint64(len(events)))
	}
}

// Dropped reports how many events were discarded because the buffer was
// full.
func (l *EventLogger) Dropped() uint64 { return l.dropped.Load() }

func (l *EventLogger) Close() error {
	var err error
	l.once.Do(func() {
		l.closed.Store(true)
		close(l.ch)
		l.wg.Wait()
		err = l.w.Close()
	})
	return err
}

// ScanTicks replays every tick entry under dir in chronological order and
// calls fn for each. fn returns false to stop early. File names carry the
// rotation hour, so lexical order is time order.
func ScanTicks(dir string, fn func(engine.TickLogEntry) (bool, error)) error {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range ents {
		if e.IsDir() || filepath.Ext(e.Name()) != ".zst" {
			continue
		}
		stop, err := scanTickFile(filepath.Join(dir, e.Name()), fn)
		if err != nil {
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
		if stop {
			return nil
		}
	}
	return nil
}

func scanTickFile(path string, fn func(engine.TickLogEntry) (bool, error)) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return false, err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry engine.TickLogEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return false, err
		}
		cont, err := fn(entry)
		if err != nil {
			return false, err
		}
		if !cont {
			return true, nil
		}
	}
	return false, sc.Err()
}
