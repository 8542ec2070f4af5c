// Package decompress replaces every file of a directory tree with its
// decompressed content.
package decompress

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/apex/log"
	"github.com/binary-install/torfetch/pkg/install"
	"golang.org/x/sync/errgroup"
)

// Error reports the file that failed to decompress
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("decompress %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Decompressor decompresses files in place
type Decompressor struct {
	Codec Codec
}

// New creates a Decompressor using codec, XZ when nil
func New(codec Codec) *Decompressor {
	if codec == nil {
		codec = XZ
	}
	return &Decompressor{Codec: codec}
}

// Tree decompresses every regular file below dir in place. Entries of a
// directory are processed concurrently and a directory is done only once all
// of its entries are. The first failure cancels the remaining work and is
// returned; files already decompressed stay decompressed.
func (d *Decompressor) Tree(ctx context.Context, dir string) error {
	log.WithField("dir", dir).Info("decompressing files")
	return d.walk(ctx, dir)
}

func (d *Decompressor) walk(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return &Error{Path: dir, Err: err}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		switch {
		case entry.IsDir():
			g.Go(func() error {
				return d.walk(ctx, path)
			})
		case entry.Type().IsRegular():
			g.Go(func() error {
				return d.File(ctx, path)
			})
		default:
			log.WithField("path", path).Debug("skipping non-regular entry")
		}
	}
	return g.Wait()
}

// File replaces the file at path with its decompressed content. The content
// is streamed into a sibling temporary file that then takes the file's place.
func (d *Decompressor) File(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := d.decompressFile(path); err != nil {
		return &Error{Path: path, Err: err}
	}
	return nil
}

func (d *Decompressor) decompressFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return err
	}

	codec := d.Codec
	if codec == nil {
		codec = XZ
	}
	reader, err := codec.NewReader(src)
	if err != nil {
		return err
	}
	defer reader.Close()

	tmpFile, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.decompressed")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	// Clean up on error
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmpFile, reader); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(info.Mode().Perm()); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}

	// The source must be closed before it can be replaced on Windows
	src.Close()
	if err := install.ReplaceFile(tmpPath, path); err != nil {
		return err
	}

	success = true
	return nil
}
