package logx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const rotateSuffixLayout = "2006-01-02"

// DailyFile is an append-only writer that rotates its file at local midnight.
//
// The active file is always Path(); on the first write of a new day the
// previous file is renamed to Path()+"."+YYYY-MM-DD (the day it covers).
// The file is opened lazily so idle channels don't create empty files.
type DailyFile struct {
	mu   sync.Mutex
	path string
	keep int
	now  func() time.Time

	f   *os.File
	day string
}

func NewDailyFile(path string, keep int) *DailyFile {
	return &DailyFile{path: path, keep: keep, now: time.Now}
}

func (d *DailyFile) Path() string { return d.path }

func (d *DailyFile) SetKeep(keep int) {
	d.mu.Lock()
	d.keep = keep
	d.mu.Unlock()
}

func (d *DailyFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	today := d.now().Format(rotateSuffixLayout)
	if d.f != nil && d.day != today {
		if err := d.rotateLocked(); err != nil {
			fmt.Fprintf(stderr, "logx: rotate %q failed: %v\n", d.path, err)
		}
	}
	if d.f == nil {
		if err := d.openLocked(today); err != nil {
			return 0, err
		}
	}
	return d.f.Write(p)
}

func (d *DailyFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return err
}

func (d *DailyFile) openLocked(today string) error {
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return err
	}
	// A file left over from a previous process belongs to the day it was last written.
	if st, err := os.Stat(d.path); err == nil {
		if prev := st.ModTime().Format(rotateSuffixLayout); prev != today && st.Size() > 0 {
			if err := d.renameLocked(prev); err != nil {
				fmt.Fprintf(stderr, "logx: rotate %q failed: %v\n", d.path, err)
			}
		}
	}
	f, err := os.OpenFile(d.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	d.f = f
	d.day = today
	return nil
}

func (d *DailyFile) rotateLocked() error {
	prev := d.day
	err := d.f.Close()
	d.f = nil
	if err != nil {
		return err
	}
	return d.renameLocked(prev)
}

func (d *DailyFile) renameLocked(day string) error {
	dst := d.path + "." + day
	if _, err := os.Stat(dst); err == nil {
		// Same day rotated twice (clock went backwards); append a counter.
		for i := 1; ; i++ {
			cand := fmt.Sprintf("%s.%d", dst, i)
			if _, err := os.Stat(cand); errors.Is(err, os.ErrNotExist) {
				dst = cand
				break
			}
		}
	}
	if err := os.Rename(d.path, dst); err != nil {
		return err
	}
	return d.pruneLocked()
}

func (d *DailyFile) pruneLocked() error {
	if d.keep <= 0 {
		return nil
	}
	matches, err := filepath.Glob(d.path + ".*")
	if err != nil {
		return err
	}
	if len(matches) <= d.keep {
		return nil
	}
	// Date suffixes sort chronologically.
	sort.Strings(matches)
	for _, old := range matches[:len(matches)-d.keep] {
		_ = os.Remove(old)
	}
	return nil
}
