package fileInfo

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"strings"
)

// CalculateSHA256 streams the file at filePath through SHA-256.
func CalculateSHA256(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Error("fail to close file", "error", err.Error())
		}
	}()
	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func (n *FileNode) CalcChecksum() (string, error) {
	sum, err := CalculateSHA256(n.Path)
	if err != nil {
		return "", err
	}
	n.Checksum = sum
	return sum, nil
}

// VerifySHA256 re-hashes the file and compares case-insensitively.
func (n *FileNode) VerifySHA256(expectedChecksum string) (bool, error) {
	actual, err := CalculateSHA256(n.Path)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(actual, expectedChecksum), nil
}
