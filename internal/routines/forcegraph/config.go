package forcegraph

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Config is the "forcegraph" routine config.
//
// Example:
//
//	config:
//	  data_dir: ./data
//	  concurrency: 2
//	  vaults:
//	    - {path: /srv/notes, save_name: notes}
type Config struct {
	DataDir     string  `json:"data_dir"`
	Vaults      []Vault `json:"vaults"`
	Concurrency int     `json:"concurrency,omitempty"` // default 2
	Pull        *bool   `json:"pull,omitempty"`        // git pull before export; default true
}

// Vault is one Obsidian vault exported to <data_dir>/<save_name>.json.
type Vault struct {
	Path     string `json:"path"`
	SaveName string `json:"save_name"`
}

const defaultConcurrency = 2

func (c Config) concurrency() int {
	if c.Concurrency <= 0 {
		return defaultConcurrency
	}
	return c.Concurrency
}

func (c Config) pull() bool { return c.Pull == nil || *c.Pull }

// SavePath returns the graph file written for v.
func (c Config) SavePath(v Vault) string {
	return filepath.Join(c.DataDir, strings.TrimSpace(v.SaveName)+".json")
}

// Validate rejects missing fields and vaults sharing a save path or a vault
// path. All problems are reported at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DataDir) == "" {
		errs = append(errs, errors.New("data_dir: required"))
	}
	if len(c.Vaults) == 0 {
		errs = append(errs, errors.New("vaults: at least one vault is required"))
	}
	if c.Concurrency < 0 {
		errs = append(errs, errors.New("concurrency: must be >= 0"))
	}

	saves := map[string]int{}
	paths := map[string]int{}
	for i, v := range c.Vaults {
		if strings.TrimSpace(v.Path) == "" {
			errs = append(errs, fmt.Errorf("vaults[%d].path: required", i))
		} else {
			p := filepath.Clean(v.Path)
			if j, dup := paths[p]; dup {
				errs = append(errs, fmt.Errorf("vaults[%d].path: duplicate vault path %q (vaults[%d])", i, p, j))
			}
			paths[p] = i
		}

		name := strings.TrimSpace(v.SaveName)
		switch {
		case name == "":
			errs = append(errs, fmt.Errorf("vaults[%d].save_name: required", i))
		case strings.ContainsAny(name, `/\`):
			errs = append(errs, fmt.Errorf("vaults[%d].save_name: must not contain path separators", i))
		default:
			sp := c.SavePath(v)
			if j, dup := saves[sp]; dup {
				errs = append(errs, fmt.Errorf("vaults[%d].save_name: duplicate save path %q (vaults[%d])", i, sp, j))
			}
			saves[sp] = i
		}
	}
	return errors.Join(errs...)
}
