package transfer

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/rescp17/lantransfer/pkg/protocol"
)

// TransferConfig holds the limits and timings applied to incoming transfers.
type TransferConfig struct {
	MaxFileSize      uint64 `json:"max_file_size" mapstructure:"max_file_size"`
	MaxChunkSize     uint32 `json:"max_chunk_size" mapstructure:"max_chunk_size"`
	DefaultChunkSize uint32 `json:"default_chunk_size" mapstructure:"default_chunk_size"`
	MaxTotalChunks   uint32 `json:"max_total_chunks" mapstructure:"max_total_chunks"`

	AllowedExtensions []string `json:"allowed_extensions" mapstructure:"allowed_extensions"`
	AllowedMimeTypes  []string `json:"allowed_mime_types" mapstructure:"allowed_mime_types"`

	TransferTimeout       time.Duration `json:"transfer_timeout" mapstructure:"transfer_timeout"`
	HandshakeTimeout      time.Duration `json:"handshake_timeout" mapstructure:"handshake_timeout"`
	StateThrottleInterval time.Duration `json:"state_throttle_interval" mapstructure:"state_throttle_interval"`
}

const (
	DefaultChunkSize = 64 * 1024  // 64KB
	MaxChunkSize     = 256 * 1024 // 256KB
	MaxFileSize      = 1 << 30    // 1GB

	// MaxTotalChunks caps the chunk count of one transfer, which bounds the
	// received-chunk bitmap and the work done when a transfer is verified.
	MaxTotalChunks = 1 << 20

	// MaxTransferIDLength bounds caller-supplied transfer ids; they end up in
	// temp file names and in every frame header.
	MaxTransferIDLength = 256
)

var (
	DefaultAllowedExtensions = []string{
		".txt", ".md", ".pdf", ".json", ".csv",
		".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp", ".svg",
		".zip", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
		".mp3", ".wav", ".mp4", ".mov",
	}

	DefaultAllowedMimeTypes = []string{
		"text/plain", "text/markdown", "text/csv", "application/json", "application/pdf",
		"image/png", "image/jpeg", "image/gif", "image/webp", "image/bmp", "image/svg+xml",
		"application/zip",
		"application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.ms-excel",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.ms-powerpoint",
		"application/vnd.openxmlformats-officedocument.presentationml.presentation",
		"audio/mpeg", "audio/wav", "video/mp4", "video/quicktime",
		"application/octet-stream",
	}
)

// DefaultTransferConfig returns a configuration with sensible defaults
func DefaultTransferConfig() *TransferConfig {
	return &TransferConfig{
		MaxFileSize:      MaxFileSize,
		MaxChunkSize:     MaxChunkSize,
		DefaultChunkSize: DefaultChunkSize,
		MaxTotalChunks:   MaxTotalChunks,

		AllowedExtensions: append([]string(nil), DefaultAllowedExtensions...),
		AllowedMimeTypes:  append([]string(nil), DefaultAllowedMimeTypes...),

		TransferTimeout:       10 * time.Minute,
		HandshakeTimeout:      30 * time.Second,
		StateThrottleInterval: 250 * time.Millisecond,
	}
}

// Validate checks if the configuration values are valid
func (tc *TransferConfig) Validate() error {
	if tc.MaxFileSize == 0 {
		return errors.New("max_file_size must be positive")
	}
	if tc.MaxChunkSize == 0 {
		return errors.New("max_chunk_size must be positive")
	}
	if tc.MaxChunkSize > protocol.MaxChunkDataLength {
		return fmt.Errorf("max_chunk_size cannot exceed %d bytes", protocol.MaxChunkDataLength)
	}
	if tc.DefaultChunkSize == 0 {
		return errors.New("default_chunk_size must be positive")
	}
	if tc.MaxTotalChunks == 0 {
		return errors.New("max_total_chunks must be positive")
	}
	if tc.DefaultChunkSize > tc.MaxChunkSize {
		return errors.New("default_chunk_size cannot be greater than max_chunk_size")
	}
	if len(tc.AllowedExtensions) == 0 {
		return errors.New("allowed_extensions cannot be empty")
	}
	if len(tc.AllowedMimeTypes) == 0 {
		return errors.New("allowed_mime_types cannot be empty")
	}
	if tc.TransferTimeout <= 0 {
		return errors.New("transfer_timeout must be positive")
	}
	if tc.HandshakeTimeout <= 0 {
		return errors.New("handshake_timeout must be positive")
	}
	if tc.StateThrottleInterval < 0 {
		return errors.New("state_throttle_interval cannot be negative")
	}
	return nil
}

// IsAllowedExtension reports whether the file name carries an allow-listed extension.
func (tc *TransferConfig) IsAllowedExtension(fileName string) bool {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		return false
	}
	for _, allowed := range tc.AllowedExtensions {
		if strings.EqualFold(ext, allowed) {
			return true
		}
	}
	return false
}

// IsAllowedMimeType reports whether the declared type is allow-listed.
// Parameters such as "; charset=utf-8" are ignored.
func (tc *TransferConfig) IsAllowedMimeType(mimeType string) bool {
	if mimeType == "" {
		return false
	}
	return mimetype.EqualsAny(mimeType, tc.AllowedMimeTypes...)
}

// ChunkSizeForFile picks the chunk size a sender should use for a file.
func (tc *TransferConfig) ChunkSizeForFile(fileSize uint64) uint32 {
	if fileSize > 0 && fileSize < uint64(tc.DefaultChunkSize) {
		return uint32(fileSize)
	}

	// Larger chunks for big files, but respect the maximum
	if fileSize > 100*1024*1024 {
		larger := uint64(tc.DefaultChunkSize) * 2
		if larger <= uint64(tc.MaxChunkSize) {
			return uint32(larger)
		}
		return tc.MaxChunkSize
	}

	return tc.DefaultChunkSize
}
