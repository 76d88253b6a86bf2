package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	logx "routined/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// keepRunsPerRoutine bounds the runs table; older rows are pruned every
// pruneEvery inserts.
const keepRunsPerRoutine = 1000

// tsLayout is fixed-width so started_at sorts lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 200}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	ok := 0
	if r.OK {
		ok = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(id, routine, cycle, started_at, took_ms, ok, err, next_run)
		 VALUES(?,?,?,?,?,?,?,?)`,
		r.ID, r.Routine, int64(r.Cycle), r.StartedAt.UTC().Format(tsLayout), r.TookMS, ok,
		nullStr(r.Error), nullTime(r.NextRun),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		if perr := s.pruneRuns(pctx, r.Routine); perr != nil {
			s.log.Debug("runs prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) RecentRuns(ctx context.Context, routine string, n int) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	if n <= 0 {
		return nil, nil
	}
	q := `SELECT id, routine, cycle, started_at, took_ms, ok, err, next_run FROM runs`
	args := []any{}
	if routine != "" {
		q += ` WHERE routine = ?`
		args = append(args, routine)
	}
	q += ` ORDER BY started_at DESC, cycle DESC LIMIT ?`
	args = append(args, n)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r        RunRecord
			cycle    int64
			started  string
			ok       int
			errText  sql.NullString
			nextText sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Routine, &cycle, &started, &r.TookMS, &ok, &errText, &nextText); err != nil {
			return nil, err
		}
		r.Cycle = uint64(cycle)
		r.OK = ok != 0
		r.Error = errText.String
		r.StartedAt, _ = time.Parse(tsLayout, started)
		if nextText.Valid {
			r.NextRun, _ = time.Parse(tsLayout, nextText.String)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutMark(ctx context.Context, key string, at time.Time) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO marks(key, at) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET at=excluded.at`,
		key, at.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) GetMark(ctx context.Context, key string) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, ErrClosed
	}
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT at FROM marks WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) pruneRuns(ctx context.Context, routine string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE routine = ? AND id NOT IN (
			SELECT id FROM runs WHERE routine = ? ORDER BY started_at DESC LIMIT ?
		)`,
		routine, routine, keepRunsPerRoutine,
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(tsLayout)
}
