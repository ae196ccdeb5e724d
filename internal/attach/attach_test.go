package attach

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"testing/fstest"

	"github.com/shineum/smtp-send-lite/internal/email"
)

func TestFS_SingleFile(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"docs/note.txt": {Data: []byte("hi")},
	}

	got, err := FS(fsys).Collect("docs/note.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("attachments: got %d, want 1", len(got))
	}
	if got[0].Filename != "note.txt" {
		t.Errorf("Filename: got %q, want %q", got[0].Filename, "note.txt")
	}
	if string(got[0].Content) != "hi" {
		t.Errorf("Content: got %q, want %q", got[0].Content, "hi")
	}
}

func TestFS_DirectoryIsFlattened(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"out/a.txt":         {Data: []byte("a")},
		"out/sub/b.bin":     {Data: []byte{0, 1, 2}},
		"out/sub/deep/c.md": {Data: []byte("# c")},
		"other/x.txt":       {Data: []byte("x")},
	}

	got, err := FS(fsys).Collect("out")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var names []string
	for _, a := range got {
		names = append(names, a.Filename)
	}
	sort.Strings(names)

	want := []string{"a.txt", "b.bin", "c.md"}
	if len(names) != len(want) {
		t.Fatalf("names: got %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d]: got %q, want %q", i, names[i], want[i])
		}
	}
}

func TestFS_NameCollisionsAreKept(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"d/one/readme": {Data: []byte("1")},
		"d/two/readme": {Data: []byte("2")},
	}

	got, err := FS(fsys).Collect("d")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("attachments: got %d, want 2", len(got))
	}
	for _, a := range got {
		if a.Filename != "readme" {
			t.Errorf("Filename: got %q, want %q", a.Filename, "readme")
		}
	}
}

func TestFS_MissingPath(t *testing.T) {
	t.Parallel()

	_, err := FS(fstest.MapFS{}).Collect("nope")
	if !errors.Is(err, ErrInvalidPath) {
		t.Errorf("error: got %v, want ErrInvalidPath", err)
	}
}

func TestOS_FileAndDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	files := map[string]string{
		filepath.Join(dir, "top.txt"):      "top",
		filepath.Join(dir, "a", "mid.txt"): "mid",
		filepath.Join(nested, "low.txt"):   "low",
	}
	for p, content := range files {
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}

	got, err := OS().Collect(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("attachments: got %d, want 3", len(got))
	}
	for _, a := range got {
		if filepath.Base(a.Filename) != a.Filename {
			t.Errorf("Filename %q should be a base name", a.Filename)
		}
	}

	single, err := OS().Collect(filepath.Join(dir, "top.txt"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(single) != 1 || string(single[0].Content) != "top" {
		t.Errorf("single file: got %+v", single)
	}
}

func TestOS_MissingPath(t *testing.T) {
	t.Parallel()

	_, err := OS().Collect(filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, ErrInvalidPath) {
		t.Errorf("error: got %v, want ErrInvalidPath", err)
	}
}

// symlinkOrSkip creates newname pointing at oldname, skipping the test on
// platforms where that is not permitted.
func symlinkOrSkip(t *testing.T, oldname, newname string) {
	t.Helper()
	if err := os.Symlink(oldname, newname); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
}

func attachmentNames(atts []email.Attachment) []string {
	names := make([]string, 0, len(atts))
	for _, a := range atts {
		names = append(names, a.Filename)
	}
	sort.Strings(names)
	return names
}

func TestOS_Symlinks(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	target := filepath.Join(base, "target")
	files := filepath.Join(base, "files")
	for _, d := range []string{target, files} {
		if err := os.Mkdir(d, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(target, "a.txt"), []byte("alpha"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(files, "c.txt"), []byte("gamma"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	symlinkOrSkip(t, filepath.Join(target, "a.txt"), filepath.Join(files, "b.txt"))
	symlinkOrSkip(t, filepath.Join(base, "nowhere"), filepath.Join(files, "dangling"))
	symlinkOrSkip(t, base, filepath.Join(files, "loop"))
	symlinkOrSkip(t, target, filepath.Join(base, "linkdir"))

	tests := []struct {
		name string
		path string
		want []string
	}{
		{name: "symlinked directory root", path: filepath.Join(base, "linkdir"), want: []string{"a.txt"}},
		{name: "symlinked file inside directory", path: files, want: []string{"b.txt", "c.txt"}},
		{name: "symlinked file as path", path: filepath.Join(files, "b.txt"), want: []string{"b.txt"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := OS().Collect(tt.path)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			names := attachmentNames(got)
			if len(names) != len(tt.want) {
				t.Fatalf("attachments: got %v, want %v", names, tt.want)
			}
			for i := range names {
				if names[i] != tt.want[i] {
					t.Errorf("attachments: got %v, want %v", names, tt.want)
					break
				}
			}
		})
	}

	got, err := OS().Collect(files)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, a := range got {
		if a.Filename == "b.txt" && string(a.Content) != "alpha" {
			t.Errorf("b.txt content: got %q, want %q", a.Content, "alpha")
		}
	}
}

func TestFS_SymlinkedFile(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	if err := os.Mkdir(filepath.Join(base, "files"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(base, "real.txt"), []byte("real"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	symlinkOrSkip(t, filepath.Join(base, "real.txt"), filepath.Join(base, "files", "link.txt"))

	got, err := FS(os.DirFS(base)).Collect("files")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].Filename != "link.txt" || string(got[0].Content) != "real" {
		t.Errorf("attachments: got %+v", got)
	}
}
