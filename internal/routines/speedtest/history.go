package speedtest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const defaultHistoryMaxRecords = 2000

// History appends results to a JSON lines file and keeps at most maxRecords
// of the newest. It is safe for concurrent use.
type History struct {
	path       string
	maxRecords int

	mu    sync.Mutex
	lines int // -1 until counted
}

func NewHistory(path string, maxRecords int) *History {
	if maxRecords <= 0 {
		maxRecords = defaultHistoryMaxRecords
	}
	return &History{path: path, maxRecords: maxRecords, lines: -1}
}

func (h *History) Append(r Result) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if dir := filepath.Dir(h.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if h.lines < 0 {
		all, err := h.readLocked()
		if err != nil {
			return err
		}
		h.lines = len(all)
	}

	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal history record: %w", err)
	}
	f, err := os.OpenFile(h.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open history file: %w", err)
	}
	_, werr := f.Write(append(b, '\n'))
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("append history record: %w", werr)
	}
	if cerr != nil {
		return fmt.Errorf("close history file: %w", cerr)
	}
	h.lines++

	// compact with some slack so appends stay cheap
	if h.lines > h.maxRecords+h.maxRecords/10 {
		return h.compactLocked()
	}
	return nil
}

// Recent returns up to n results, newest first.
func (h *History) Recent(n int) ([]Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	all, err := h.readLocked()
	if err != nil {
		return nil, err
	}
	if n > len(all) {
		n = len(all)
	}
	out := make([]Result, 0, n)
	for i := len(all) - 1; i >= len(all)-n; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (h *History) readLocked() ([]Result, error) {
	f, err := os.Open(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	var out []Result
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := s.Bytes()
		if len(line) == 0 {
			continue
		}
		var r Result
		if err := json.Unmarshal(line, &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, s.Err()
}

func (h *History) compactLocked() error {
	all, err := h.readLocked()
	if err != nil {
		return err
	}
	if len(all) > h.maxRecords {
		all = all[len(all)-h.maxRecords:]
	}

	tmp := h.path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open temp history file: %w", err)
	}
	bw := bufio.NewWriter(out)
	enc := json.NewEncoder(bw)
	for _, r := range all {
		if err := enc.Encode(r); err != nil {
			_ = out.Close()
			_ = os.Remove(tmp)
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close temp history file: %w", err)
	}
	if err := os.Rename(tmp, h.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace history file: %w", err)
	}
	h.lines = len(all)
	return nil
}
