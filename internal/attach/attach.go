// Package attach resolves attachment references (a single file or a directory
// tree) into named byte payloads.
package attach

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/shineum/smtp-send-lite/internal/email"
)

// ErrInvalidPath is returned when a path is neither a regular file nor a
// directory.
var ErrInvalidPath = errors.New("invalid attachment path")

// Source produces attachments for a path.
type Source interface {
	// Collect returns one attachment for a file, or one attachment per
	// regular file anywhere below a directory, named by base name only.
	Collect(name string) ([]email.Attachment, error)
}

// OS returns a Source backed by the local filesystem.
func OS() Source {
	return osSource{}
}

// FS returns a Source backed by fsys. Paths use fs.FS conventions
// (slash separated, unrooted).
func FS(fsys fs.FS) Source {
	return fsSource{fsys: fsys}
}

type osSource struct{}

func (osSource) Collect(name string) ([]email.Attachment, error) {
	info, err := os.Stat(name)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidPath, name, err)
	}

	switch {
	case info.Mode().IsRegular():
		data, err := os.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read %q: %w", name, err)
		}
		return []email.Attachment{{Filename: filepath.Base(name), Content: data}}, nil

	case info.IsDir():
		// WalkDir does not descend into a symlinked root.
		root, err := filepath.EvalSymlinks(name)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidPath, name, err)
		}
		var out []email.Attachment
		err = filepath.WalkDir(root, collector(&out, os.Stat, os.ReadFile))
		if err != nil {
			return nil, fmt.Errorf("failed to walk %q: %w", name, err)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w %q: not a file or directory", ErrInvalidPath, name)
	}
}

type fsSource struct {
	fsys fs.FS
}

func (s fsSource) Collect(name string) ([]email.Attachment, error) {
	info, err := fs.Stat(s.fsys, name)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidPath, name, err)
	}

	stat := func(p string) (fs.FileInfo, error) { return fs.Stat(s.fsys, p) }
	read := func(p string) ([]byte, error) { return fs.ReadFile(s.fsys, p) }

	switch {
	case info.Mode().IsRegular():
		data, err := read(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read %q: %w", name, err)
		}
		return []email.Attachment{{Filename: path.Base(name), Content: data}}, nil

	case info.IsDir():
		var out []email.Attachment
		if err := fs.WalkDir(s.fsys, name, collector(&out, stat, read)); err != nil {
			return nil, fmt.Errorf("failed to walk %q: %w", name, err)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w %q: not a file or directory", ErrInvalidPath, name)
	}
}

// collector returns a WalkDirFunc appending every regular file to out.
// Symlinks count when their target is a regular file; symlinked directories
// are not descended into, which keeps link cycles out of the walk.
func collector(out *[]email.Attachment, stat func(string) (fs.FileInfo, error), read func(string) ([]byte, error)) fs.WalkDirFunc {
	return func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		switch {
		case d.Type().IsRegular():
		case d.Type()&fs.ModeSymlink != 0:
			info, err := stat(p)
			if err != nil || !info.Mode().IsRegular() {
				return nil
			}
		default:
			return nil
		}
		data, err := read(p)
		if err != nil {
			return err
		}
		*out = append(*out, email.Attachment{Filename: d.Name(), Content: data})
		return nil
	}
}
