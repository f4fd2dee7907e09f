package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"planetcore/internal/terraform"
)

// OverlayStore persists terraform overlays keyed by the world position of
// the node slot they belong to. Entries outlive the nodes that wrote them.
type OverlayStore interface {
	Load(key mgl64.Vec3) (*terraform.Overlay, bool, error)
	Save(key mgl64.Vec3, overlay *terraform.Overlay) error
	Delete(key mgl64.Vec3) error
	ForEach(fn func(key mgl64.Vec3, overlay *terraform.Overlay) bool) error
	Len() int
	Close() error
}

const (
	DriverMemory = "memory"
	DriverDisk   = "disk"
	DriverSQLite = "sqlite"
)

// Open builds the store selected by driver. path is ignored for memory.
func Open(driver, path string) (OverlayStore, error) {
	switch driver {
	case DriverMemory, "":
		return NewMemoryStore(), nil
	case DriverDisk:
		return OpenDiskStore(path)
	case DriverSQLite:
		return OpenSQLiteStore(path)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", driver)
	}
}

var errShortPayload = errors.New("storage: truncated overlay payload")

// encodeOverlay lays out res, watermark and the deltas as little-endian
// 64-bit words.
func encodeOverlay(o *terraform.Overlay) []byte {
	buf := make([]byte, 16+8*len(o.Delta))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(o.Res))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(o.Watermark))
	for i, v := range o.Delta {
		binary.LittleEndian.PutUint64(buf[16+8*i:], math.Float64bits(v))
	}
	return buf
}

func decodeOverlay(buf []byte) (*terraform.Overlay, error) {
	if len(buf) < 16 || (len(buf)-16)%8 != 0 {
		return nil, errShortPayload
	}
	o := &terraform.Overlay{
		Res:       int(binary.LittleEndian.Uint64(buf[0:8])),
		Watermark: int(binary.LittleEndian.Uint64(buf[8:16])),
		Delta:     make([]float64, (len(buf)-16)/8),
	}
	for i := range o.Delta {
		o.Delta[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[16+8*i:]))
	}
	return o, nil
}
