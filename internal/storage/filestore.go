// Package storage keeps job input and output files on local disk, one
// directory per job isolation key.
//
// Output objects are written to a temporary file in the job directory and
// renamed into place on Commit, so a reader never observes a half-written
// artifact.
package storage

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Object names inside a job directory.
const (
	InputName  = "orig"
	OutputName = "modif"
)

const (
	permFile = 0o644
	permDir  = 0o755
	bufSize  = 64 * 1024
)

var (
	// ErrInvalidKey is returned for keys or names that are not a single path element.
	ErrInvalidKey = errors.New("storage: invalid key")
	// ErrTooLarge is returned by Put when the input exceeds its limit.
	ErrTooLarge = errors.New("storage: object too large")
)

// FileStore stores objects under root/<key>/<name>.
type FileStore struct {
	root    string
	baseURL string
}

// NewFileStore creates the root directory if needed. baseURL prefixes the
// URLs returned by Commit and URL.
func NewFileStore(root, baseURL string) (*FileStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("storage: empty root directory")
	}
	if err := os.MkdirAll(root, permDir); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	return &FileStore{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Root returns the directory that holds all job directories.
func (s *FileStore) Root() string { return s.root }

// FileName joins an object name and extension, e.g. modif.csv.
func FileName(name, ext string) string {
	if ext == "" {
		return name
	}
	return name + "." + ext
}

func validElement(v string) bool {
	if v == "" || v == "." || v == ".." {
		return false
	}
	return !strings.ContainsAny(v, `/\`) && filepath.Base(v) == v
}

func (s *FileStore) path(key, name string) (string, error) {
	if !validElement(key) || !validElement(name) {
		return "", fmt.Errorf("%w: %q/%q", ErrInvalidKey, key, name)
	}
	return filepath.Join(s.root, key, name), nil
}

// URL returns the public URL of an object.
func (s *FileStore) URL(key, name string) string {
	return s.baseURL + "/" + url.PathEscape(key) + "/" + url.PathEscape(name)
}

// Put copies r into key/name atomically and returns the number of bytes
// written. At most limit bytes are accepted when limit > 0.
func (s *FileStore) Put(ctx context.Context, key, name string, r io.Reader, limit int64) (int64, error) {
	obj, err := s.Create(key, name)
	if err != nil {
		return 0, err
	}

	src := readerWithCtx(ctx, r)
	if limit > 0 {
		src = io.LimitReader(src, limit+1)
	}
	n, err := io.Copy(obj, src)
	if err != nil {
		_ = obj.Abort()
		return n, err
	}
	if limit > 0 && n > limit {
		_ = obj.Abort()
		return n, ErrTooLarge
	}
	if _, err := obj.Commit(); err != nil {
		return n, err
	}
	return n, nil
}

// Open opens a committed object for reading.
func (s *FileStore) Open(key, name string) (*os.File, error) {
	p, err := s.path(key, name)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

// Create starts a pending object. Call Commit to publish it or Abort to
// discard it.
func (s *FileStore) Create(key, name string) (*PendingObject, error) {
	dest, err := s.path(key, name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dest), permDir); err != nil {
		return nil, fmt.Errorf("storage: create job dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("storage: create temp file: %w", err)
	}
	_ = os.Chmod(tmp.Name(), permFile)

	return &PendingObject{
		file: tmp,
		bw:   bufio.NewWriterSize(tmp, bufSize),
		dest: dest,
		url:  s.URL(key, name),
	}, nil
}

// Delete removes every object stored under key.
func (s *FileStore) Delete(key string) error {
	if !validElement(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return os.RemoveAll(filepath.Join(s.root, key))
}

// PruneOlderThan removes job directories last modified before cutoff and
// returns how many were removed. Keys for which keep returns true are left
// in place; keep may be nil.
func (s *FileStore) PruneOlderThan(cutoff time.Time, keep func(key string) bool) (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("storage: list root: %w", err)
	}

	removed := 0
	var errs []error
	for _, e := range entries {
		if !e.IsDir() || (keep != nil && keep(e.Name())) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// PendingObject is an object being written. It satisfies csvio.Object.
type PendingObject struct {
	file *os.File
	bw   *bufio.Writer
	dest string
	url  string
	done bool
}

// Write implements io.Writer.
func (o *PendingObject) Write(p []byte) (int, error) {
	if o.done {
		return 0, os.ErrClosed
	}
	return o.bw.Write(p)
}

// Commit flushes the object, renames it into place and returns its URL.
func (o *PendingObject) Commit() (string, error) {
	if o.done {
		return "", os.ErrClosed
	}
	o.done = true

	tmpPath := o.file.Name()
	if err := o.bw.Flush(); err != nil {
		_ = o.file.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("storage: flush: %w", err)
	}
	if err := o.file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("storage: close: %w", err)
	}
	if err := os.Rename(tmpPath, o.dest); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("storage: publish: %w", err)
	}
	return o.url, nil
}

// Abort discards the object. It is a no-op after Commit.
func (o *PendingObject) Abort() error {
	if o.done {
		return nil
	}
	o.done = true
	_ = o.file.Close()
	if err := os.Remove(o.file.Name()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func readerWithCtx(ctx context.Context, r io.Reader) io.Reader {
	if ctx == nil {
		return r
	}
	return ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
