package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-gl/mathgl/mgl64"
	_ "modernc.org/sqlite"

	"planetcore/internal/terraform"
)

// SQLiteStore keeps overlays in a single table keyed by slot position.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens or creates the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite store: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS overlays (
	x REAL NOT NULL,
	y REAL NOT NULL,
	z REAL NOT NULL,
	watermark INTEGER NOT NULL,
	payload BLOB NOT NULL,
	PRIMARY KEY (x, y, z)
);`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("sqlite schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(key mgl64.Vec3) (*terraform.Overlay, bool, error) {
	var payload []byte
	err := s.db.QueryRow(`SELECT payload FROM overlays WHERE x = ? AND y = ? AND z = ?`, key[0], key[1], key[2]).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load overlay %v: %w", key, err)
	}
	o, err := decodeOverlay(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode overlay %v: %w", key, err)
	}
	return o, true, nil
}

func (s *SQLiteStore) Save(key mgl64.Vec3, overlay *terraform.Overlay) error {
	_, err := s.db.Exec(`
INSERT INTO overlays (x, y, z, watermark, payload) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (x, y, z) DO UPDATE SET watermark = excluded.watermark, payload = excluded.payload`,
		key[0], key[1], key[2], overlay.Watermark, encodeOverlay(overlay))
	if err != nil {
		return fmt.Errorf("save overlay %v: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(key mgl64.Vec3) error {
	if _, err := s.db.Exec(`DELETE FROM overlays WHERE x = ? AND y = ? AND z = ?`, key[0], key[1], key[2]); err != nil {
		return fmt.Errorf("delete overlay %v: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) ForEach(fn func(key mgl64.Vec3, overlay *terraform.Overlay) bool) error {
	rows, err := s.db.Query(`SELECT x, y, z, payload FROM overlays ORDER BY x, y, z`)
	if err != nil {
		return fmt.Errorf("list overlays: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key     mgl64.Vec3
			payload []byte
		)
		if err := rows.Scan(&key[0], &key[1], &key[2], &payload); err != nil {
			return fmt.Errorf("scan overlay: %w", err)
		}
		o, err := decodeOverlay(payload)
		if err != nil {
			return fmt.Errorf("decode overlay %v: %w", key, err)
		}
		if !fn(key, o) {
			break
		}
	}
	return rows.Err()
}

func (s *SQLiteStore) Len() int {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM overlays`).Scan(&n); err != nil {
		return 0
	}
	return n
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
