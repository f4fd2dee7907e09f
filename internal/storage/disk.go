package storage

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"planetcore/internal/terraform"
)

const (
	diskOpDelete byte = 0
	diskOpSet    byte = 1

	// op byte, three float64 key components, uint32 payload size
	diskHeaderSize = 1 + 24 + 4
)

type diskRecordMeta struct {
	offset int64
	size   uint32
}

// DiskStore appends every save and delete to a single record file and keeps
// an in-memory index of the latest record per key. Reopening replays the
// file to rebuild the index.
type DiskStore struct {
	file    *os.File
	mu      sync.RWMutex
	records map[mgl64.Vec3]diskRecordMeta
}

// OpenDiskStore opens or creates the record file at path.
func OpenDiskStore(path string) (*DiskStore, error) {
	if path == "" {
		return nil, fmt.Errorf("disk store: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create overlay directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open overlay file: %w", err)
	}
	s := &DiskStore{
		file:    f,
		records: make(map[mgl64.Vec3]diskRecordMeta),
	}
	if err := s.loadIndex(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *DiskStore) loadIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind overlay file: %w", err)
	}

	header := make([]byte, diskHeaderSize)
	var offset int64
	for {
		if _, err := io.ReadFull(s.file, header); err != nil {
			if err == io.EOF {
				break
			}
			if err == io.ErrUnexpectedEOF {
				return fmt.Errorf("truncated overlay header: %w", err)
			}
			return fmt.Errorf("read overlay header: %w", err)
		}
		op, key, size := parseHeader(header)
		recordOffset := offset
		offset += int64(len(header)) + int64(size)

		if _, err := s.file.Seek(int64(size), io.SeekCurrent); err != nil {
			return fmt.Errorf("seek past payload: %w", err)
		}
		if op == diskOpSet {
			s.records[key] = diskRecordMeta{offset: recordOffset, size: size}
		} else {
			delete(s.records, key)
		}
	}
	return nil
}

func makeHeader(op byte, key mgl64.Vec3, size int) []byte {
	header := make([]byte, diskHeaderSize)
	header[0] = op
	for axis := 0; axis < 3; axis++ {
		binary.LittleEndian.PutUint64(header[1+8*axis:], math.Float64bits(key[axis]))
	}
	binary.LittleEndian.PutUint32(header[25:29], uint32(size))
	return header
}

func parseHeader(header []byte) (byte, mgl64.Vec3, uint32) {
	var key mgl64.Vec3
	for axis := 0; axis < 3; axis++ {
		key[axis] = math.Float64frombits(binary.LittleEndian.Uint64(header[1+8*axis:]))
	}
	return header[0], key, binary.LittleEndian.Uint32(header[25:29])
}

func (s *DiskStore) Load(key mgl64.Vec3) (*terraform.Overlay, bool, error) {
	s.mu.RLock()
	meta, ok := s.records[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	payload := make([]byte, meta.size)
	if _, err := s.file.ReadAt(payload, meta.offset+diskHeaderSize); err != nil {
		return nil, false, fmt.Errorf("read overlay payload at %d: %w", meta.offset, err)
	}
	o, err := decodeOverlay(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode overlay %v: %w", key, err)
	}
	return o, true, nil
}

func (s *DiskStore) Save(key mgl64.Vec3, overlay *terraform.Overlay) error {
	payload := encodeOverlay(overlay)
	header := makeHeader(diskOpSet, key, len(payload))

	s.mu.Lock()
	defer s.mu.Unlock()

	offset, err := s.file.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("seek overlay end: %w", err)
	}
	if _, err := s.file.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := s.file.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync overlay file: %w", err)
	}
	s.records[key] = diskRecordMeta{offset: offset, size: uint32(len(payload))}
	return nil
}

func (s *DiskStore) Delete(key mgl64.Vec3) error {
	header := makeHeader(diskOpDelete, key, 0)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("seek overlay end: %w", err)
	}
	if _, err := s.file.Write(header); err != nil {
		return fmt.Errorf("write delete header: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync overlay file: %w", err)
	}
	delete(s.records, key)
	return nil
}

// ForEach visits entries ordered by key so iteration is reproducible.
func (s *DiskStore) ForEach(fn func(key mgl64.Vec3, overlay *terraform.Overlay) bool) error {
	s.mu.RLock()
	keys := make([]mgl64.Vec3, 0, len(s.records))
	for key := range s.records {
		keys = append(keys, key)
	}
	s.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return lessKey(keys[i], keys[j]) })
	for _, key := range keys {
		o, ok, err := s.Load(key)
		if err != nil {
			log.Printf("disk overlay store load %v: %v", key, err)
			continue
		}
		if !ok {
			continue
		}
		if !fn(key, o) {
			break
		}
	}
	return nil
}

func (s *DiskStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *DiskStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

func lessKey(a, b mgl64.Vec3) bool {
	for axis := 0; axis < 3; axis++ {
		if a[axis] != b[axis] {
			return a[axis] < b[axis]
		}
	}
	return false
}
