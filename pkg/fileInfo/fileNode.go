package fileInfo

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var ErrIsDir = errors.New("directories cannot be sent")

// FileNode describes a local file about to be offered to a receiver.
type FileNode struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type,omitempty"`
	Checksum string `json:"checksum,omitempty"`
	Path     string `json:"-"`
}

// CreateNode stats path, sniffs its content type and hashes it.
func CreateNode(path string) (FileNode, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileNode{}, err
	}
	if info.IsDir() {
		return FileNode{}, fmt.Errorf("%w: %s", ErrIsDir, path)
	}

	node := FileNode{
		Name: info.Name(),
		Size: info.Size(),
		Path: path,
	}

	mime, err := mimetype.DetectFile(path)
	if err != nil {
		node.MimeType = "application/octet-stream"
	} else {
		node.MimeType = mime.String()
	}

	if _, err := node.CalcChecksum(); err != nil {
		return FileNode{}, err
	}
	return node, nil
}

// DetectMimeType sniffs the content of path, returning the bare media type
// without parameters.
func DetectMimeType(path string) (string, error) {
	mime, err := mimetype.DetectFile(path)
	if err != nil {
		return "", err
	}
	base, _, _ := strings.Cut(mime.String(), ";")
	return base, nil
}
