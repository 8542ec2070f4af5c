package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"github.com/pkg/errors"
)

// Unzip extracts every file of the zip archive at zipPath into destDir,
// keeping the archive's directory structure and file modes. Cancelling ctx
// stops the extraction before the next entry.
func Unzip(ctx context.Context, zipPath, destDir string) error {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return errors.Wrap(err, "failed to open zip archive")
	}
	defer reader.Close()

	destDir, err = filepath.Abs(destDir)
	if err != nil {
		return errors.Wrap(err, "failed to resolve destination")
	}

	for _, file := range reader.File {
		if err := ctx.Err(); err != nil {
			return err
		}

		target, err := entryPath(destDir, file.Name)
		if err != nil {
			return err
		}

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return errors.Wrap(err, "failed to create directory")
			}
			continue
		}

		if !file.Mode().IsRegular() {
			log.WithField("entry", file.Name).Debug("skipping non-regular zip entry")
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return errors.Wrap(err, "failed to create parent directory")
		}

		if err := extractFile(file, target); err != nil {
			return errors.Wrapf(err, "failed to extract %s", file.Name)
		}
	}

	return nil
}

// entryPath joins name onto destDir, rejecting entries that escape it
func entryPath(destDir, name string) (string, error) {
	target := filepath.Join(destDir, name)
	if target != destDir && !strings.HasPrefix(target, destDir+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid path in archive: %s", name)
	}
	return target, nil
}

func extractFile(file *zip.File, target string) error {
	fileReader, err := file.Open()
	if err != nil {
		return errors.Wrap(err, "failed to open file in archive")
	}
	defer fileReader.Close()

	mode := file.Mode().Perm()
	if mode == 0 {
		mode = 0644
	}

	targetFile, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return errors.Wrap(err, "failed to create file")
	}

	if _, err := io.Copy(targetFile, fileReader); err != nil {
		targetFile.Close()
		return errors.Wrap(err, "failed to write file")
	}

	return targetFile.Close()
}
