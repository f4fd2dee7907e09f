package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"planetcore/internal/terraform"
)

// Writer appends terraform events as zstd-compressed JSON lines, one file
// per UTC hour. Every event is its own zstd frame written straight to the
// file, so a crash loses at most the event being written. Readers decode the
// concatenated frames as one stream.
type Writer struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
}

// NewWriter returns a writer that lazily creates files under baseDir.
func NewWriter(baseDir, prefix string) *Writer {
	return &Writer{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

// Write appends one event as a complete frame. The event is in the file
// when Write returns nil.
func (w *Writer) Write(e terraform.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if _, err := w.f.Write(w.enc.EncodeAll(b, nil)); err != nil {
		return fmt.Errorf("append event %d: %w", e.Seq, err)
	}
	return nil
}

// Close syncs and closes the current file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *Writer) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	if w.enc == nil {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return err
		}
		w.enc = enc
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.f = f
	w.curHour = hour
	return nil
}

func (w *Writer) closeLocked() error {
	if w.f == nil {
		return nil
	}
	f := w.f
	w.f = nil
	w.curHour = ""
	syncErr := f.Sync()
	if err := f.Close(); err != nil {
		return fmt.Errorf("close journal file: %w", err)
	}
	if syncErr != nil {
		return fmt.Errorf("sync journal file: %w", syncErr)
	}
	return nil
}

func (w *Writer) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// Replay reads every journal file under baseDir with the given prefix and
// returns the events ordered by sequence number. A missing directory yields
// no events. A frame cut short at the end of a file, left by a crash during
// Write, is ignored.
func Replay(baseDir, prefix string) ([]terraform.Event, error) {
	paths, err := filepath.Glob(filepath.Join(baseDir, prefix+"-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var events []terraform.Event
	for _, path := range paths {
		got, err := readFile(path)
		if err != nil {
			return nil, fmt.Errorf("replay %s: %w", filepath.Base(path), err)
		}
		events = append(events, got...)
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Seq < events[j].Seq })
	for i, e := range events {
		if e.Seq != i {
			return nil, fmt.Errorf("replay: expected sequence %d, found %d", i, e.Seq)
		}
	}
	return events, nil
}

func readFile(path string) ([]terraform.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var events []terraform.Event
	jd := json.NewDecoder(dec)
	for {
		var e terraform.Event
		if err := jd.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}
