package forcegraph

import (
	"bufio"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Graph is the force-graph JSON document.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Links []Link `json:"links"`
}

type Node struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Val  int    `json:"val"`
}

type Link struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// ignored names are skipped at any depth, files and directories alike.
var ignored = map[string]struct{}{
	".obsidian":          {},
	".git":               {},
	".DS_Store":          {},
	"Budgeting Sheet.md": {},
	"Todo.md":            {},
}

var wikiLink = regexp.MustCompile(`\[\[(.*?)\]\]`)

type vaultFile struct {
	path string
	name string // base name; markdown files without ".md"
}

// scanVault lists markdown files and other files under root in lexical
// path order.
func scanVault(root string) (md, other []vaultFile, err error) {
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if _, skip := ignored[d.Name()]; skip {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.HasSuffix(name, ".md") {
			md = append(md, vaultFile{path: path, name: strings.TrimSuffix(name, ".md")})
		} else {
			other = append(other, vaultFile{path: path, name: name})
		}
		return nil
	})
	return md, other, err
}

// linkTarget reduces the inside of [[...]] to the note name: everything
// before an unescaped '#' or any '|', trimmed.
func linkTarget(raw string) string {
	var b strings.Builder
	var prev rune
	for _, c := range raw {
		if (c == '#' && prev != '\\') || c == '|' {
			break
		}
		b.WriteRune(c)
		prev = c
	}
	return strings.TrimSpace(b.String())
}

// extractLinks returns the sorted set of note names linked from r that exist
// in notes.
func extractLinks(r io.Reader, notes map[string]struct{}) ([]string, error) {
	seen := map[string]struct{}{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		for _, m := range wikiLink.FindAllStringSubmatch(sc.Text(), -1) {
			target := linkTarget(m[1])
			if _, ok := notes[target]; ok {
				seen[target] = struct{}{}
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

// BuildGraph scans the vault at root. Markdown notes come first (id and name
// are the base name without ".md"), then other files by file name; val is
// the node index. Links connect notes to the existing notes they reference.
func BuildGraph(root string) (Graph, error) {
	md, other, err := scanVault(root)
	if err != nil {
		return Graph{}, err
	}

	g := Graph{Nodes: []Node{}, Links: []Link{}}
	notes := make(map[string]struct{}, len(md))
	ids := make(map[string]struct{}, len(md)+len(other))
	add := func(name string) {
		if _, dup := ids[name]; dup {
			return
		}
		ids[name] = struct{}{}
		g.Nodes = append(g.Nodes, Node{ID: name, Name: name, Val: len(g.Nodes)})
	}
	for _, f := range md {
		notes[f.name] = struct{}{}
		add(f.name)
	}
	for _, f := range other {
		add(f.name)
	}

	seen := map[Link]struct{}{}
	for _, f := range md {
		targets, err := linksInFile(f.path, notes)
		if err != nil {
			return Graph{}, err
		}
		for _, t := range targets {
			l := Link{Source: f.name, Target: t}
			if _, dup := seen[l]; dup {
				continue
			}
			seen[l] = struct{}{}
			g.Links = append(g.Links, l)
		}
	}
	return g, nil
}

func linksInFile(path string, notes map[string]struct{}) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return extractLinks(f, notes)
}

// latestModTime returns the newest file mtime under root, ignoring .git.
func latestModTime(root string) (time.Time, error) {
	var latest time.Time
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if mt := info.ModTime(); mt.After(latest) {
			latest = mt
		}
		return nil
	})
	return latest, err
}
