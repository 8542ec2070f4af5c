// Package signmar runs the signmar tool from a release's mar-tools archive to
// unpack a MAR bundle.
package signmar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/apex/log"
	"github.com/binary-install/torfetch/pkg/install"
	"github.com/binary-install/torfetch/pkg/release"
)

// maxOutput bounds the tool output kept in a ToolError
const maxOutput = 512

// ToolPath returns where signmar lives once the mar-tools archive for
// hostPlatform has been unzipped into dir
func ToolPath(dir string, hostPlatform release.Platform) string {
	return filepath.Join(dir, "mar-tools", "signmar"+hostPlatform.ExeSuffix())
}

// ToolError reports that signmar could not be started, was killed, or
// exited with a non-zero status
type ToolError struct {
	Path     string
	ExitCode int
	Output   string
	Err      error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s failed", filepath.Base(e.Path))
	if e.ExitCode > 0 {
		msg = fmt.Sprintf("%s exited with status %d", filepath.Base(e.Path), e.ExitCode)
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Tool is an unpacked signmar binary
type Tool struct {
	Path string
}

// Extractor unpacks a MAR bundle into a directory
type Extractor interface {
	Extract(ctx context.Context, workDir, destDir, bundlePath string) error
}

// Extract runs `signmar -C destDir -x bundlePath` inside workDir
func (t *Tool) Extract(ctx context.Context, workDir, destDir, bundlePath string) error {
	if err := install.MakeExecutable(t.Path); err != nil {
		return &ToolError{Path: t.Path, Err: err}
	}
	if err := install.EnsureDir(destDir); err != nil {
		return err
	}

	log.WithFields(log.Fields{"bundle": filepath.Base(bundlePath), "dest": destDir}).Info("unpacking bundle")

	cmd := exec.CommandContext(ctx, t.Path, "-C", destDir, "-x", bundlePath)
	cmd.Dir = workDir
	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	if err := cmd.Run(); err != nil {
		toolErr := &ToolError{
			Path:   t.Path,
			Output: trimOutput(combined.String()),
			Err:    err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			toolErr.ExitCode = exitErr.ExitCode()
		}
		return toolErr
	}

	log.Debugf("signmar output: %s", trimOutput(combined.String()))
	return nil
}

func trimOutput(out string) string {
	clean := strings.TrimSpace(out)
	if len(clean) > maxOutput {
		cut := maxOutput
		for cut > 0 && !utf8.RuneStart(clean[cut]) {
			cut--
		}
		return clean[:cut] + "..."
	}
	return clean
}
