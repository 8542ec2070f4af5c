package install

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/pkg/errors"
)

// ResolveOutputDir resolves the directory receiving the tor files, handling defaults and expansions
func ResolveOutputDir(dir string) (string, error) {
	if dir == "" {
		// Use default from environment or HOME
		if envDir := os.Getenv("TORFETCH_DIR"); envDir != "" {
			dir = envDir
		} else if home := os.Getenv("HOME"); home != "" {
			dir = filepath.Join(home, ".local", "share", "torfetch", "tor")
		} else {
			return "", fmt.Errorf("could not determine output directory: no HOME environment variable")
		}
	}

	// Expand path (handles ~ and environment variables)
	dir = expandPath(dir)

	// Make absolute
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return "", errors.Wrap(err, "failed to resolve output directory")
	}

	return absPath, nil
}

// EnsureDir creates dir and its parents. An existing directory is not an
// error; an existing non-directory is.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create directory %s", dir)
	}
	return nil
}

// MakeExecutable adds execute permission for everyone who can read path
func MakeExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.Wrap(err, "failed to stat executable")
	}
	mode := info.Mode().Perm()
	// Mirror each read bit into the matching execute bit
	mode |= (mode & 0444) >> 2
	if err := os.Chmod(path, mode); err != nil {
		return errors.Wrap(err, "failed to set permissions")
	}
	return nil
}

// ReplaceFile atomically replaces targetPath with sourcePath
func ReplaceFile(sourcePath, targetPath string) error {
	// On Unix, rename is atomic
	if err := os.Rename(sourcePath, targetPath); err != nil {
		// On Windows the target must be removed first
		if runtime.GOOS == "windows" || os.IsExist(err) {
			if err := os.Remove(targetPath); err != nil && !os.IsNotExist(err) {
				return errors.Wrap(err, "failed to remove existing file")
			}
			if err := os.Rename(sourcePath, targetPath); err != nil {
				return errors.Wrap(err, "failed to replace file")
			}
		} else {
			return errors.Wrap(err, "failed to replace file")
		}
	}
	return nil
}

// Move moves a file or directory tree from src to dst, replacing whatever
// dst held. dst is left untouched when src does not exist. Moves across
// filesystems fall back to copy and remove.
func Move(src, dst string) error {
	if _, err := os.Lstat(src); err != nil {
		return errors.Wrapf(err, "failed to move %s", filepath.Base(src))
	}
	if err := os.RemoveAll(dst); err != nil {
		return errors.Wrapf(err, "failed to clear %s", dst)
	}
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return errors.Wrapf(err, "failed to move %s", filepath.Base(src))
	}

	if err := copyTree(src, dst); err != nil {
		os.RemoveAll(dst)
		return errors.Wrapf(err, "failed to copy %s across filesystems", filepath.Base(src))
	}
	if err := os.RemoveAll(src); err != nil {
		return errors.Wrapf(err, "failed to remove %s after copy", src)
	}
	return nil
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm())
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			return copyFile(path, target, info.Mode().Perm())
		default:
			return nil
		}
	})
}

func copyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// expandPath expands ~ and environment variables in a path
func expandPath(path string) string {
	// Expand ~ to HOME
	if strings.HasPrefix(path, "~/") {
		if home := os.Getenv("HOME"); home != "" {
			path = filepath.Join(home, path[2:])
		}
	}

	// Expand environment variables
	path = os.ExpandEnv(path)

	return path
}
