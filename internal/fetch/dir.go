package fetch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Directory acquires content by recursively walking a local filesystem root.
// Ignore rules are honored in three layers: repo-level ignore files
// (.gitignore-style pattern lists), caller-supplied exclude globs, and a
// file-extension allowlist. Symlinks are not followed across roots.
type Directory struct {
	// Root is the walk root. Made absolute in Acquire.
	Root string
	// Exclude is a list of glob patterns matched against slash-separated
	// paths relative to Root.
	Exclude []string
	// Extensions is the file-extension allowlist (with leading dot).
	// Empty means all files pass.
	Extensions []string
}

// ignoreFiles are the repo-level ignore files read at each directory level.
var ignoreFiles = []string{".gitignore", ".librarianignore"}

// Acquire walks the root and emits one Item per accepted file.
func (d *Directory) Acquire(ctx context.Context, visit VisitFunc, onErr ErrorFunc) error {
	root, err := filepath.Abs(d.Root)
	if err != nil {
		return fmt.Errorf("fetch: resolve root %s: %w", d.Root, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("fetch: stat root %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("fetch: root %s is not a directory", root)
	}

	ignores := newIgnoreSet(root)

	extAllowed := make(map[string]bool, len(d.Extensions))
	for _, ext := range d.Extensions {
		extAllowed[strings.ToLower(ext)] = true
	}

	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			onErr(path, err)
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)

		if entry.IsDir() {
			if path != root && (strings.HasPrefix(entry.Name(), ".") || ignores.match(rel+"/") || d.excluded(rel+"/")) {
				return filepath.SkipDir
			}
			ignores.load(path, rel)
			return nil
		}

		// Symlinks are skipped: following them could escape the root.
		if entry.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if ignores.match(rel) || d.excluded(rel) {
			return nil
		}
		if len(extAllowed) > 0 && !extAllowed[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		body, readErr := os.ReadFile(path)
		if readErr != nil {
			onErr(path, readErr)
			return nil
		}

		return visit(Item{
			URI:       path,
			Body:      body,
			FetchedAt: time.Now().UTC(),
		})
	})
}

// excluded reports whether rel matches a caller-supplied exclude glob.
func (d *Directory) excluded(rel string) bool {
	rel = strings.TrimSuffix(rel, "/")
	for _, pattern := range d.Exclude {
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, filepath.Base(rel)); ok {
			return true
		}
	}
	return false
}

// ignoreSet accumulates ignore patterns as the walk descends. Patterns are
// matched the simple way: against the base name and against the path
// relative to the directory that declared them. Negations are not supported.
type ignoreSet struct {
	// root is the walk root.
	root string
	// patterns maps the declaring directory (relative, "" for root) to
	// its pattern list.
	patterns map[string][]string
}

// newIgnoreSet loads the root-level ignore files.
func newIgnoreSet(root string) *ignoreSet {
	s := &ignoreSet{root: root, patterns: make(map[string][]string)}
	s.load(root, ".")
	return s
}

// load reads ignore files in dir (rel is dir relative to root).
func (s *ignoreSet) load(dir, rel string) {
	if rel == "." {
		rel = ""
	}
	for _, name := range ignoreFiles {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
				continue
			}
			s.patterns[rel] = append(s.patterns[rel], line)
		}
	}
}

// match reports whether rel (slash-separated, trailing "/" for directories)
// is ignored by any loaded pattern.
func (s *ignoreSet) match(rel string) bool {
	isDir := strings.HasSuffix(rel, "/")
	rel = strings.TrimSuffix(rel, "/")

	for declDir, patterns := range s.patterns {
		local := rel
		if declDir != "" {
			if !strings.HasPrefix(rel, declDir+"/") {
				continue
			}
			local = strings.TrimPrefix(rel, declDir+"/")
		}
		for _, pattern := range patterns {
			dirOnly := strings.HasSuffix(pattern, "/")
			pattern = strings.TrimSuffix(pattern, "/")
			if dirOnly && !isDir {
				continue
			}
			if ok, _ := filepath.Match(pattern, local); ok {
				return true
			}
			if ok, _ := filepath.Match(pattern, filepath.Base(local)); ok {
				return true
			}
		}
	}
	return false
}
