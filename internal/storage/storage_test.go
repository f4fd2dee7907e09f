package storage

import (
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"planetcore/internal/terraform"
)

func sampleOverlay(watermark int, seed float64) *terraform.Overlay {
	o := terraform.NewOverlay(2)
	o.Watermark = watermark
	for i := range o.Delta {
		o.Delta[i] = seed * float64(i-13)
	}
	return o
}

func equalOverlay(t *testing.T, got, want *terraform.Overlay) {
	t.Helper()
	if got.Res != want.Res || got.Watermark != want.Watermark {
		t.Fatalf("header mismatch: got res=%d wm=%d, want res=%d wm=%d", got.Res, got.Watermark, want.Res, want.Watermark)
	}
	if len(got.Delta) != len(want.Delta) {
		t.Fatalf("delta length %d, want %d", len(got.Delta), len(want.Delta))
	}
	for i := range want.Delta {
		if got.Delta[i] != want.Delta[i] {
			t.Fatalf("delta %d = %v, want %v", i, got.Delta[i], want.Delta[i])
		}
	}
}

func exerciseStore(t *testing.T, store OverlayStore) {
	t.Helper()
	a := mgl64.Vec3{-512, 256, 128}
	b := mgl64.Vec3{64.5, -0.25, 7}

	if _, ok, err := store.Load(a); err != nil || ok {
		t.Fatalf("empty store load: ok=%v err=%v", ok, err)
	}
	if err := store.Save(a, sampleOverlay(3, 0.5)); err != nil {
		t.Fatalf("save a: %v", err)
	}
	if err := store.Save(b, sampleOverlay(1, -2)); err != nil {
		t.Fatalf("save b: %v", err)
	}
	if err := store.Save(a, sampleOverlay(7, 1.5)); err != nil {
		t.Fatalf("overwrite a: %v", err)
	}

	got, ok, err := store.Load(a)
	if err != nil || !ok {
		t.Fatalf("load a: ok=%v err=%v", ok, err)
	}
	equalOverlay(t, got, sampleOverlay(7, 1.5))
	if store.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", store.Len())
	}

	if err := store.Delete(b); err != nil {
		t.Fatalf("delete b: %v", err)
	}
	seen := 0
	if err := store.ForEach(func(key mgl64.Vec3, o *terraform.Overlay) bool {
		seen++
		if key != a {
			t.Fatalf("unexpected key %v", key)
		}
		return true
	}); err != nil {
		t.Fatalf("for each: %v", err)
	}
	if seen != 1 {
		t.Fatalf("expected 1 entry after delete, saw %d", seen)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	key := mgl64.Vec3{1, 2, 3}
	o := sampleOverlay(1, 1)
	if err := store.Save(key, o); err != nil {
		t.Fatalf("save: %v", err)
	}
	o.Delta[0] = 99
	got, _, _ := store.Load(key)
	if got.Delta[0] == 99 {
		t.Fatalf("store must not alias caller buffers")
	}
}

func TestDiskStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overlays", "planet.bin")
	store, err := OpenDiskStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	exerciseStore(t, store)
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenDiskStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if reopened.Len() != 1 {
		t.Fatalf("expected 1 entry after reopen, got %d", reopened.Len())
	}
	got, ok, err := reopened.Load(mgl64.Vec3{-512, 256, 128})
	if err != nil || !ok {
		t.Fatalf("load after reopen: ok=%v err=%v", ok, err)
	}
	equalOverlay(t, got, sampleOverlay(7, 1.5))
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overlays.db")
	store, err := OpenSQLiteStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	exerciseStore(t, store)
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, ok, err := reopened.Load(mgl64.Vec3{-512, 256, 128})
	if err != nil || !ok {
		t.Fatalf("load after reopen: ok=%v err=%v", ok, err)
	}
	equalOverlay(t, got, sampleOverlay(7, 1.5))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("etcd", ""); err == nil {
		t.Fatalf("expected unknown driver error")
	}
	store, err := Open(DriverMemory, "")
	if err != nil {
		t.Fatalf("memory driver: %v", err)
	}
	store.Close()
}
