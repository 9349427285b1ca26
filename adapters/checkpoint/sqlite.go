package checkpoint

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/allefeld/cvcrossmanova/domain/core"
	"github.com/allefeld/cvcrossmanova/domain/sweep"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS meta (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	params_hash TEXT NOT NULL,
	run_id TEXT NOT NULL,
	chunk_size INTEGER NOT NULL,
	positions INTEGER NOT NULL,
	done BLOB NOT NULL,
	counts BLOB NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS maps (
	analysis INTEGER NOT NULL,
	perm INTEGER NOT NULL,
	vals BLOB NOT NULL,
	PRIMARY KEY (analysis, perm)
);
CREATE TABLE IF NOT EXISTS failures (
	position INTEGER PRIMARY KEY,
	x INTEGER NOT NULL,
	y INTEGER NOT NULL,
	z INTEGER NOT NULL,
	message TEXT NOT NULL
);`

// SQLiteStore persists one database file per sweep under a directory,
// named by the sweep parameter hash, so resumption with different
// parameters never finds a stale snapshot. Each operation opens the
// file, performs its reads or writes, and closes it again.
type SQLiteStore struct {
	dir string
}

// NewSQLiteStore creates the checkpoint directory if needed.
func NewSQLiteStore(dir string) (*SQLiteStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("checkpoint directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &SQLiteStore{dir: dir}, nil
}

// Path returns the database file for a sweep parameter hash.
func (s *SQLiteStore) Path(hash core.SweepParamsHash) string {
	return filepath.Join(s.dir, fmt.Sprintf("sweep-%s.db", hash.Short(12)))
}

func (s *SQLiteStore) open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database: %w", err)
	}
	// SQLite works best with a single writer
	db.SetMaxOpenConns(1)
	return db, nil
}

// Load reads the snapshot for the hash, or returns (nil, nil) when no
// checkpoint file exists.
func (s *SQLiteStore) Load(ctx context.Context, hash core.SweepParamsHash) (*sweep.Checkpoint, error) {
	path := s.Path(hash)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat checkpoint file: %w", err)
	}

	db, err := s.open(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var (
		paramsHash, runID      string
		chunkSize, positions   int
		doneBlob, countsBlob   []byte
		createdRaw, updatedRaw string
	)
	err = db.QueryRowContext(ctx, `
		SELECT params_hash, run_id, chunk_size, positions, done, counts, created_at, updated_at
		FROM meta WHERE id = 1`).
		Scan(&paramsHash, &runID, &chunkSize, &positions, &doneBlob, &countsBlob, &createdRaw, &updatedRaw)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint metadata: %w", err)
	}

	counts, err := decodeInts(countsBlob)
	if err != nil {
		return nil, fmt.Errorf("failed to decode counts: %w", err)
	}
	if len(counts) != positions {
		return nil, fmt.Errorf("checkpoint counts cover %d positions, metadata says %d", len(counts), positions)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, createdRaw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint created_at: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, updatedRaw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint updated_at: %w", err)
	}

	cp := &sweep.Checkpoint{
		ParamsHash: core.SweepParamsHash(paramsHash),
		RunID:      core.RunID(runID),
		ChunkSize:  chunkSize,
		Done:       decodeBools(doneBlob),
		Counts:     counts,
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}

	rows, err := db.QueryContext(ctx, `SELECT analysis, perm, vals FROM maps ORDER BY analysis, perm`)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint maps: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var analysis, perm int
		var blob []byte
		if err := rows.Scan(&analysis, &perm, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint map row: %w", err)
		}
		vals, err := decodeFloats(blob)
		if err != nil {
			return nil, fmt.Errorf("failed to decode map values: %w", err)
		}
		if len(vals) != positions {
			return nil, fmt.Errorf("map for analysis %d permutation %d covers %d positions, metadata says %d",
				analysis, perm, len(vals), positions)
		}
		for analysis >= len(cp.Values) {
			cp.Values = append(cp.Values, nil)
		}
		cp.Values[analysis] = append(cp.Values[analysis], vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checkpoint maps: %w", err)
	}

	frows, err := db.QueryContext(ctx, `SELECT position, x, y, z, message FROM failures ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint failures: %w", err)
	}
	defer frows.Close()
	for frows.Next() {
		var f sweep.PositionFailure
		if err := frows.Scan(&f.Position, &f.Center[0], &f.Center[1], &f.Center[2], &f.Message); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint failure row: %w", err)
		}
		cp.Failures = append(cp.Failures, f)
	}
	if err := frows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checkpoint failures: %w", err)
	}

	return cp, nil
}

// Save writes the snapshot atomically, replacing any previous content
// for the same parameter hash.
func (s *SQLiteStore) Save(ctx context.Context, cp *sweep.Checkpoint) error {
	db, err := s.open(s.Path(cp.ParamsHash))
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("failed to initialize checkpoint schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin checkpoint transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"meta", "maps", "failures"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear checkpoint table %s: %w", table, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO meta (id, params_hash, run_id, chunk_size, positions, done, counts, created_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.ParamsHash.String(), string(cp.RunID), cp.ChunkSize, cp.Positions(),
		encodeBools(cp.Done), encodeInts(cp.Counts),
		cp.CreatedAt.Format(time.RFC3339Nano), cp.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to write checkpoint metadata: %w", err)
	}

	for a := range cp.Values {
		for p := range cp.Values[a] {
			_, err := tx.ExecContext(ctx, `INSERT INTO maps (analysis, perm, vals) VALUES (?, ?, ?)`,
				a, p, encodeFloats(cp.Values[a][p]))
			if err != nil {
				return fmt.Errorf("failed to write checkpoint map: %w", err)
			}
		}
	}

	for _, f := range cp.Failures {
		_, err := tx.ExecContext(ctx, `INSERT INTO failures (position, x, y, z, message) VALUES (?, ?, ?, ?, ?)`,
			f.Position, f.Center[0], f.Center[1], f.Center[2], f.Message)
		if err != nil {
			return fmt.Errorf("failed to write checkpoint failure: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return nil
}

// Clear removes the checkpoint file for the hash, if present.
func (s *SQLiteStore) Clear(_ context.Context, hash core.SweepParamsHash) error {
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(s.Path(hash) + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove checkpoint file: %w", err)
		}
	}
	return nil
}

func encodeFloats(v []float64) []byte {
	b := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(x))
	}
	return b
}

func decodeFloats(b []byte) ([]float64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("float blob length %d is not a multiple of 8", len(b))
	}
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
	return v, nil
}

func encodeInts(v []int) []byte {
	b := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(b[8*i:], uint64(int64(x)))
	}
	return b
}

func decodeInts(b []byte) ([]int, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("int blob length %d is not a multiple of 8", len(b))
	}
	v := make([]int, len(b)/8)
	for i := range v {
		v[i] = int(int64(binary.LittleEndian.Uint64(b[8*i:])))
	}
	return v, nil
}

func encodeBools(v []bool) []byte {
	b := make([]byte, len(v))
	for i, x := range v {
		if x {
			b[i] = 1
		}
	}
	return b
}

func decodeBools(b []byte) []bool {
	v := make([]bool, len(b))
	for i, x := range b {
		v[i] = x == 1
	}
	return v
}
