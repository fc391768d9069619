package fetch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// writeFile creates a file with parent directories.
func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

// collect runs the acquirer and returns items keyed by base name.
func collect(t *testing.T, acq Acquirer) map[string]Item {
	t.Helper()
	items := make(map[string]Item)
	err := acq.Acquire(context.Background(), func(item Item) error {
		items[filepath.Base(item.URI)] = item
		return nil
	}, func(uri string, err error) {
		t.Logf("item error for %s: %v", uri, err)
	})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	return items
}

func Test_Directory_WalksWithExtensionAllowlist(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "a.md", "# A")
	writeFile(t, root, "sub/b.txt", "b")
	writeFile(t, root, "sub/c.bin", "\x00\x01")

	items := collect(t, &Directory{Root: root, Extensions: []string{".md", ".txt"}})

	if len(items) != 2 {
		t.Fatalf("want 2 items, got %d: %v", len(items), keys(items))
	}
	if _, ok := items["c.bin"]; ok {
		t.Error("extension allowlist must drop c.bin")
	}
	if !filepath.IsAbs(items["a.md"].URI) {
		t.Errorf("URI must be absolute, got %q", items["a.md"].URI)
	}
}

func Test_Directory_HonorsIgnoreFileAndExcludes(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, ".gitignore", "drafts/\n*.tmp.md\n")
	writeFile(t, root, "keep.md", "keep")
	writeFile(t, root, "scratch.tmp.md", "scratch")
	writeFile(t, root, "drafts/wip.md", "wip")
	writeFile(t, root, "secret/hidden.md", "hidden")

	items := collect(t, &Directory{
		Root:       root,
		Exclude:    []string{"secret"},
		Extensions: []string{".md"},
	})

	if _, ok := items["keep.md"]; !ok {
		t.Error("keep.md must survive")
	}
	for _, name := range []string{"scratch.tmp.md", "wip.md", "hidden.md"} {
		if _, ok := items[name]; ok {
			t.Errorf("%s must be ignored", name)
		}
	}
}

func Test_Directory_SkipsHiddenDirsAndSymlinks(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	outside := t.TempDir()
	writeFile(t, root, "visible.md", "v")
	writeFile(t, root, ".cache/cached.md", "c")
	writeFile(t, outside, "escaped.md", "e")

	if err := os.Symlink(filepath.Join(outside, "escaped.md"), filepath.Join(root, "link.md")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	items := collect(t, &Directory{Root: root, Extensions: []string{".md"}})

	if _, ok := items["visible.md"]; !ok {
		t.Error("visible.md must be walked")
	}
	if _, ok := items["cached.md"]; ok {
		t.Error("dot-directories must be skipped")
	}
	if _, ok := items["link.md"]; ok {
		t.Error("symlinks must not be followed")
	}
}

// keys returns the map keys for error messages.
func keys(m map[string]Item) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
