package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileSystem resolves image names against the storage root.
type FileSystem struct {
	root        string
	baselineDir string
}

// NewFileSystem makes root absolute and creates it when missing.
func NewFileSystem(root, baselineDir string) (*FileSystem, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &FileSystem{root: abs, baselineDir: baselineDir}, nil
}

// Root is the absolute storage root; the detector also writes its
// rendered image here.
func (f *FileSystem) Root() string { return f.root }

// Path resolves a stored file name. Names escaping the root are rejected.
func (f *FileSystem) Path(name string) (string, error) {
	return within(f.root, name)
}

// BaselinePath resolves a baseline image name under the baseline directory.
func (f *FileSystem) BaselinePath(name string) (string, error) {
	if strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("baseline name %q must not contain a path separator", name)
	}
	return within(filepath.Join(f.root, f.baselineDir), name)
}

// Open a stored file for reading.
func (f *FileSystem) Open(name string) (*os.File, error) {
	p, err := f.Path(name)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

// Delete removes a stored file. A file that is already gone is not an error.
func (f *FileSystem) Delete(name string) error {
	p, err := f.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func within(dir, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("empty file name")
	}
	p := filepath.Join(dir, name)
	rel, err := filepath.Rel(dir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == "." {
		return "", fmt.Errorf("file name %q escapes %s", name, dir)
	}
	return p, nil
}

// Exists reports whether path is an existing regular file.
func Exists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}

// ResetDir removes dir with everything in it and recreates it empty.
func ResetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

// CopyFile copies src to dst, replacing dst.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
