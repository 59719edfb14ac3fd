// Package archive reads named entries out of in-memory zip archives returned by
// the detection service.
//
// Failures are plain errors wrapping the taxonomy sentinels. Callers decide
// whether a failure is final; a failed Open is the normal outcome for direct
// media responses.
package archive

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zip"

	"github.com/markdetect/markdetect-go/internal/errors"
)

// DefaultMaxEntrySize caps the decompressed size of a single entry.
const DefaultMaxEntrySize int64 = 2 << 30

// maxPrealloc limits how much of the declared entry size is allocated up front,
// since the directory's size fields are not trustworthy.
const maxPrealloc int64 = 64 << 20

// Reader gives lookup-by-name access to the entries of one archive. The central
// directory is parsed once in Open; entry contents are decompressed on demand.
type Reader struct {
	zr           *zip.Reader
	index        map[string]*zip.File
	maxEntrySize int64
	size         int64
}

// Option configures a Reader.
type Option func(*Reader)

// WithMaxEntrySize overrides DefaultMaxEntrySize. Non-positive values are ignored.
func WithMaxEntrySize(n int64) Option {
	return func(r *Reader) {
		if n > 0 {
			r.maxEntrySize = n
		}
	}
}

// Open parses the archive directory of data. It fails with ErrCorruptArchive when
// data is not a zip container. data must not be modified while the Reader is in use.
func Open(data []byte, opts ...Option) (*Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %d bytes: %w", errors.ErrCorruptArchive, len(data), err)
	}

	r := &Reader{
		zr:           zr,
		index:        make(map[string]*zip.File, len(zr.File)),
		maxEntrySize: DefaultMaxEntrySize,
		size:         int64(len(data)),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		// First occurrence wins for duplicated names.
		if _, exists := r.index[f.Name]; !exists {
			r.index[f.Name] = f
		}
	}
	return r, nil
}

// Names lists file entries in directory order.
func (r *Reader) Names() []string {
	names := make([]string, 0, len(r.index))
	for _, f := range r.zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if r.index[f.Name] == f {
			names = append(names, f.Name)
		}
	}
	return names
}

// Size returns the size in bytes of the raw archive.
func (r *Reader) Size() int64 {
	return r.size
}

// Find looks up an entry by exact name. It fails with ErrEntryNotFound.
func (r *Reader) Find(name string) (*Entry, error) {
	f, ok := r.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errors.ErrEntryNotFound, name)
	}
	return &Entry{file: f, maxSize: r.maxEntrySize}, nil
}

// Entry is one named file inside an archive.
type Entry struct {
	file    *zip.File
	maxSize int64
}

// Name returns the entry's name within the archive.
func (e *Entry) Name() string {
	return e.file.Name
}

// Size returns the uncompressed size recorded in the archive directory.
func (e *Entry) Size() int64 {
	return int64(e.file.UncompressedSize64) //nolint:gosec // bounded by maxSize checks in Materialize
}

// Materialize decompresses the whole entry. Every call decompresses again and
// returns identical bytes.
func (e *Entry) Materialize() ([]byte, error) {
	if e.file.UncompressedSize64 > uint64(e.maxSize) { //nolint:gosec // maxSize is positive
		return nil, e.tooLarge()
	}

	rc, err := e.file.Open()
	if err != nil {
		return nil, e.corrupt(err)
	}
	defer rc.Close()

	buf := bytes.NewBuffer(make([]byte, 0, min(e.Size(), maxPrealloc)))
	n, err := io.Copy(buf, io.LimitReader(rc, e.maxSize+1))
	if err != nil {
		return nil, e.corrupt(err)
	}
	if n > e.maxSize {
		return nil, e.tooLarge()
	}
	return buf.Bytes(), nil
}

func (e *Entry) corrupt(err error) error {
	return fmt.Errorf("%w: entry %q: %w", errors.ErrCorruptArchive, e.file.Name, err)
}

func (e *Entry) tooLarge() error {
	return fmt.Errorf("%w: entry %q exceeds %d bytes", errors.ErrEntryTooLarge, e.file.Name, e.maxSize)
}
