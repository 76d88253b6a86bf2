package forcegraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	logx "routined/pkg/logx"
)

// Kind is the routine kind handled by this package.
const Kind = "forcegraph"

// Marks persists the last exported mtime per graph file. storage.Store
// satisfies it.
type Marks interface {
	GetMark(ctx context.Context, key string) (time.Time, bool, error)
	PutMark(ctx context.Context, key string, at time.Time) error
}

// Puller refreshes a vault before it is scanned.
type Puller interface {
	Pull(ctx context.Context, dir string) error
}

// GitPuller runs "git -C <dir> pull".
type GitPuller struct{}

func (GitPuller) Pull(ctx context.Context, dir string) error {
	out, err := exec.CommandContext(ctx, "git", "-C", dir, "pull").CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("git pull: %w: %s", err, msg)
		}
		return fmt.Errorf("git pull: %w", err)
	}
	return nil
}

type Option func(*Exporter)

func WithPuller(p Puller) Option {
	return func(e *Exporter) { e.puller = p }
}

// Exporter regenerates the force-graph file of every configured vault whose
// content changed since the last export.
type Exporter struct {
	cfg    Config
	marks  Marks
	puller Puller
	log    logx.Logger
}

// New validates cfg. A nil marks keeps marks in memory only, so every
// process restart re-exports once.
func New(cfg Config, marks Marks, log logx.Logger, opts ...Option) (*Exporter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if marks == nil {
		marks = newMemMarks()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Exporter{cfg: cfg, marks: marks, puller: GitPuller{}, log: log}
	for _, o := range opts {
		if o != nil {
			o(e)
		}
	}
	return e, nil
}

// Run exports all vaults concurrently. A failing vault does not stop the
// others; their errors are joined.
func (e *Exporter) Run(ctx context.Context) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(e.cfg.concurrency())
	for _, v := range e.cfg.Vaults {
		g.Go(func() error {
			if err := e.exportVault(ctx, v); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("vault %s: %w", v.Path, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (e *Exporter) exportVault(ctx context.Context, v Vault) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	savePath := e.cfg.SavePath(v)
	log := e.log.With(logx.String("vault", v.Path), logx.String("save_path", savePath))

	if e.cfg.pull() && e.puller != nil {
		if err := e.puller.Pull(ctx, v.Path); err != nil {
			log.Warn("failed to pull updates from repository", logx.Err(err))
		}
	}

	latest, err := latestModTime(v.Path)
	if err != nil {
		return fmt.Errorf("scan mtimes: %w", err)
	}
	key := markKey(savePath)
	last, ok, err := e.marks.GetMark(ctx, key)
	if err != nil {
		return fmt.Errorf("read mark: %w", err)
	}
	if ok && latest.UnixMilli() <= last.UnixMilli() && fileExists(savePath) {
		log.Debug("no changes to force graph")
		return nil
	}
	log.Info("changes detected, updating force graph", logx.Time("latest_mtime", latest))

	g, err := BuildGraph(v.Path)
	if err != nil {
		return fmt.Errorf("build graph: %w", err)
	}
	if err := writeJSONAtomic(savePath, g); err != nil {
		return err
	}
	if err := e.marks.PutMark(ctx, key, latest); err != nil {
		return fmt.Errorf("write mark: %w", err)
	}
	log.Info("force graph written", logx.Int("nodes", len(g.Nodes)), logx.Int("links", len(g.Links)))
	return nil
}

func markKey(savePath string) string { return Kind + ":" + savePath }

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func writeJSONAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

type memMarks struct {
	mu sync.Mutex
	m  map[string]time.Time
}

func newMemMarks() *memMarks { return &memMarks{m: map[string]time.Time{}} }

func (m *memMarks) GetMark(_ context.Context, key string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.m[key]
	return t, ok, nil
}

func (m *memMarks) PutMark(_ context.Context, key string, at time.Time) error {
	m.mu.Lock()
	m.m[key] = at
	m.mu.Unlock()
	return nil
}
