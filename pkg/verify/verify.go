package verify

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ComputeSHA256 computes the hex encoded SHA-256 digest of a file
func ComputeSHA256(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", errors.Wrap(err, "failed to open file")
	}
	defer file.Close()

	h := sha256.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", errors.Wrap(err, "failed to compute checksum")
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyChecksum verifies that a file matches the expected SHA-256 digest
func VerifyChecksum(filePath, expectedHash string) error {
	computedHash, err := ComputeSHA256(filePath)
	if err != nil {
		return err
	}

	// Compare case-insensitively
	if !strings.EqualFold(computedHash, expectedHash) {
		return fmt.Errorf("checksum mismatch for %s: expected %s, got %s", filepath.Base(filePath), expectedHash, computedHash)
	}

	return nil
}

// VerifyWithChecksumFile verifies a file using a checksum file such as
// sha256sums-signed-build.txt
func VerifyWithChecksumFile(filePath, checksumFile string) error {
	filename := filepath.Base(filePath)

	expectedHash, err := findChecksumInFile(checksumFile, filename)
	if err != nil {
		return err
	}

	return VerifyChecksum(filePath, expectedHash)
}

// findChecksumInFile finds the checksum for a specific file in a checksum file
func findChecksumInFile(checksumFile, targetFilename string) (string, error) {
	file, err := os.Open(checksumFile)
	if err != nil {
		return "", errors.Wrap(err, "failed to open checksum file")
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		checksum, filename, ok := parseChecksumLine(line)
		if ok && filename == targetFilename {
			return checksum, nil
		}
	}

	if err := scanner.Err(); err != nil {
		return "", errors.Wrap(err, "failed to read checksum file")
	}

	return "", fmt.Errorf("checksum not found for %s", targetFilename)
}

// parseChecksumLine parses a line from a checksum file
// Supports formats like:
// - "abc123  filename.mar" (two spaces)
// - "abc123 *filename.mar" (binary mode marker)
// - "abc123	filename.mar" (tab)
func parseChecksumLine(line string) (checksum, filename string, ok bool) {
	line = strings.TrimSpace(line)

	// Skip empty lines and comments
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}

	// Split by whitespace
	parts := strings.Fields(line)
	if len(parts) < 2 {
		return "", "", false
	}

	return parts[0], filepath.Base(strings.TrimPrefix(parts[1], "*")), true
}
