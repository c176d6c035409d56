package snapshot

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// File writes the snapshot as one JSON document. Paths ending in ".zst" are
// zstd-compressed. Saves go to a temporary file that is renamed over the
// target, so a crash leaves either the old or the new snapshot.
type File struct {
	path     string
	compress bool
}

// NewFile returns a file backend for path. The parent directory is created
// if needed.
func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, errors.New("snapshot: file path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("snapshot: create dir: %w", err)
		}
	}
	return &File{path: path, compress: strings.HasSuffix(path, ".zst")}, nil
}

// Path returns the snapshot file path.
func (f *File) Path() string { return f.path }

func (f *File) Save(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("snapshot: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := f.encode(tmp, snap); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("snapshot: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("snapshot: rename: %w", err)
	}
	return nil
}

func (f *File) encode(w io.Writer, snap *Snapshot) error {
	bw := bufio.NewWriter(w)
	var out io.Writer = bw
	var zw *zstd.Encoder
	if f.compress {
		var err error
		zw, err = zstd.NewWriter(bw, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return fmt.Errorf("snapshot: zstd writer: %w", err)
		}
		out = zw
	}
	if err := json.NewEncoder(out).Encode(snap); err != nil {
		return fmt.Errorf("snapshot: encode: %w", err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return fmt.Errorf("snapshot: zstd close: %w", err)
		}
	}
	return bw.Flush()
}

func (f *File) Load(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fh, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return empty(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: open: %w", err)
	}
	defer fh.Close()

	var in io.Reader = bufio.NewReader(fh)
	if f.compress {
		zr, err := zstd.NewReader(in)
		if err != nil {
			return nil, fmt.Errorf("snapshot: zstd reader: %w", err)
		}
		defer zr.Close()
		in = zr
	}

	var snap Snapshot
	if err := json.NewDecoder(in).Decode(&snap); err != nil {
		return nil, fmt.Errorf("snapshot: decode %s: %w", f.path, err)
	}
	if snap.Libraries == nil {
		snap.Libraries = []LibraryRecord{}
	}
	return &snap, nil
}

func (f *File) Close() error { return nil }
