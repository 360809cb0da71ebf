package transfer

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rescp17/lantransfer/pkg/protocol"
)

var checksumPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// Session owns the state of one in-flight transfer: the chunk bitmap, byte
// counters, the temp file handle and the running SHA-256.
//
// Chunks may be written in any order. The hash only ever advances in index
// order: an in-order chunk is hashed from memory, and chunks that arrived
// ahead of a gap are read back from the temp file once the gap fills.
type Session struct {
	TransferID       string
	FileName         string
	MimeType         string
	FileSize         uint64
	ExpectedChecksum string
	TotalChunks      uint32
	ChunkSize        uint32
	TempPath         string
	StartTime        time.Time
	LastChunkTime    time.Time
	Status           SessionStatus
	BytesReceived    uint64

	received chunkBitmap
	file     *os.File
	hasher   hash.Hash
	nextHash uint32
	readBuf  []byte
	checksum string
	now      func() time.Time
}

// CheckFileStart applies the acceptance rules to a file_start request.
// The returned error is a *RejectionError whose text is sent to the peer.
func CheckFileStart(req *protocol.FileStart, cfg *TransferConfig) error {
	if len(req.TransferID) > MaxTransferIDLength {
		return reject("transfer id exceeds %d bytes", MaxTransferIDLength)
	}
	if _, err := SafeFileName(req.FileName); err != nil {
		return reject("invalid file name %q", req.FileName)
	}
	if !cfg.IsAllowedExtension(req.FileName) {
		return reject("file type %q is not allowed", filepath.Ext(req.FileName))
	}
	if !cfg.IsAllowedMimeType(req.MimeType) {
		return reject("mime type %q is not allowed", req.MimeType)
	}
	if req.FileSize > cfg.MaxFileSize {
		return reject("file size %d exceeds maximum of %d bytes", req.FileSize, cfg.MaxFileSize)
	}
	if req.ChunkSize == 0 || req.ChunkSize > cfg.MaxChunkSize {
		return reject("chunk size %d must be between 1 and %d bytes", req.ChunkSize, cfg.MaxChunkSize)
	}
	if req.TotalChunks == 0 {
		return reject("total chunks must be at least 1")
	}
	if req.TotalChunks > cfg.MaxTotalChunks {
		return reject("total chunks %d exceeds maximum of %d", req.TotalChunks, cfg.MaxTotalChunks)
	}

	lower := uint64(req.TotalChunks-1) * uint64(req.ChunkSize)
	upper := uint64(req.TotalChunks) * uint64(req.ChunkSize)
	if req.FileSize <= lower || req.FileSize > upper {
		return reject("file size %d is inconsistent with %d chunks of %d bytes", req.FileSize, req.TotalChunks, req.ChunkSize)
	}

	if !checksumPattern.MatchString(req.Checksum) {
		return reject("checksum must be 64 hex characters")
	}
	return nil
}

// SafeFileName reduces a peer-supplied name to a bare file name.
func SafeFileName(name string) (string, error) {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	switch base {
	case "", ".", "..", "/":
		return "", fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	}
	if base == string(filepath.Separator) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	}
	return base, nil
}

// NewSession creates the temp file for an accepted file_start.
func NewSession(req *protocol.FileStart, tempDir string, now func() time.Time) (*Session, error) {
	if now == nil {
		now = time.Now
	}
	name, err := SafeFileName(req.FileName)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory %s: %w", tempDir, err)
	}

	prefix := tempPrefix(req.TransferID)
	file, err := os.CreateTemp(tempDir, prefix+"-*.part")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	started := now()
	return &Session{
		TransferID:       req.TransferID,
		FileName:         name,
		MimeType:         req.MimeType,
		FileSize:         req.FileSize,
		ExpectedChecksum: req.Checksum,
		TotalChunks:      req.TotalChunks,
		ChunkSize:        req.ChunkSize,
		TempPath:         file.Name(),
		StartTime:        started,
		LastChunkTime:    started,
		Status:           SessionReceiving,
		received:         newChunkBitmap(req.TotalChunks),
		file:             file,
		hasher:           sha256.New(),
		now:              now,
	}, nil
}

func tempPrefix(transferID string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, transferID)
	if len(clean) > 64 {
		clean = clean[:64]
	}
	return clean
}

// ExpectedChunkLen is the exact byte length of chunk index.
func (s *Session) ExpectedChunkLen(index uint32) int {
	if index == s.TotalChunks-1 {
		return int(s.FileSize - uint64(s.TotalChunks-1)*uint64(s.ChunkSize))
	}
	return int(s.ChunkSize)
}

// WriteChunk places data at its offset. A chunk already received is reported
// as a duplicate and neither rewritten nor re-hashed.
func (s *Session) WriteChunk(index uint32, data []byte) (duplicate bool, err error) {
	if s.Status != SessionReceiving {
		return false, ErrSessionNotReceiving
	}
	if index >= s.TotalChunks {
		return false, fmt.Errorf("%w: %d not in [0, %d)", ErrChunkOutOfRange, index, s.TotalChunks)
	}
	if s.received.has(index) {
		return true, nil
	}
	if want := s.ExpectedChunkLen(index); len(data) != want {
		return false, fmt.Errorf("%w: chunk %d has %d bytes, expected %d", ErrChunkSizeMismatch, index, len(data), want)
	}

	offset := int64(index) * int64(s.ChunkSize)
	if _, err := s.file.WriteAt(data, offset); err != nil {
		return false, newTransferError(CodeWriteFailed, "failed to write chunk %d at offset %d: %w", index, offset, err)
	}

	s.received.set(index)
	s.BytesReceived += uint64(len(data))
	s.LastChunkTime = s.now()

	if err := s.advanceHash(index, data); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Session) advanceHash(index uint32, data []byte) error {
	if index != s.nextHash {
		return nil
	}

	s.hasher.Write(data)
	s.nextHash++

	for s.nextHash < s.TotalChunks {
		if !s.received.has(s.nextHash) {
			return nil
		}
		if s.readBuf == nil {
			s.readBuf = make([]byte, s.ChunkSize)
		}
		buf := s.readBuf[:s.ExpectedChunkLen(s.nextHash)]
		offset := int64(s.nextHash) * int64(s.ChunkSize)
		if _, err := s.file.ReadAt(buf, offset); err != nil && !errors.Is(err, io.EOF) {
			return newTransferError(CodeWriteFailed, "failed to read back chunk %d: %w", s.nextHash, err)
		}
		s.hasher.Write(buf)
		s.nextHash++
	}
	return nil
}

// ReceivedCount is the number of distinct chunks written.
func (s *Session) ReceivedCount() int {
	return s.received.count
}

// HasChunk reports whether index was already written.
func (s *Session) HasChunk(index uint32) bool {
	return s.received.has(index)
}

// MissingCount is the number of chunks not yet received.
func (s *Session) MissingCount() int {
	return int(s.TotalChunks) - s.received.count
}

// MissingChunks lists up to limit indices not yet received, ascending.
// A limit of zero or less lists all of them.
func (s *Session) MissingChunks(limit int) []uint32 {
	return s.received.missing(limit)
}

// Verify checks completeness, closes the temp file and compares the hash
// with the checksum announced in file_start.
func (s *Session) Verify() (string, error) {
	if s.Status != SessionReceiving {
		return "", ErrSessionNotReceiving
	}

	if n := s.MissingCount(); n > 0 {
		s.Status = SessionFailed
		return "", newTransferError(CodeIncompleteTransfer, "missing %d of %d chunks: %s",
			n, s.TotalChunks, FormatMissing(s.MissingChunks(missingListLimit), n))
	}

	s.Status = SessionVerifying
	if err := s.closeFile(); err != nil {
		s.Status = SessionFailed
		return "", newTransferError(CodeWriteFailed, "failed to close temp file: %w", err)
	}

	sum := hex.EncodeToString(s.hasher.Sum(nil))
	if !strings.EqualFold(sum, s.ExpectedChecksum) {
		s.Status = SessionFailed
		return "", newTransferError(CodeChecksumMismatch, "checksum mismatch: expected %s, got %s",
			strings.ToLower(s.ExpectedChecksum), sum)
	}

	s.checksum = sum
	s.Status = SessionCompleting
	return sum, nil
}

// Commit moves the verified temp file into destDir and returns the final path.
// A file already at that path is replaced. On failure both the temp file and
// any partially written target are removed.
func (s *Session) Commit(destDir string) (string, error) {
	if s.Status != SessionCompleting {
		return "", fmt.Errorf("cannot commit session in status %s", s.Status)
	}

	finalPath := filepath.Join(destDir, s.FileName)
	if err := moveFile(s.TempPath, finalPath); err != nil {
		s.Status = SessionFailed
		s.removeTemp()
		if rmErr := os.Remove(finalPath); rmErr != nil && !os.IsNotExist(rmErr) {
			slog.Warn("Failed to remove partial target file", "path", finalPath, "error", rmErr)
		}
		return "", newTransferError(CodeMoveFailed, "failed to move file to %s: %w", finalPath, err)
	}

	s.Status = SessionComplete
	return finalPath, nil
}

func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove existing file: %w", err)
	}

	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}

	// Rename fails across filesystems; copy then drop the source.
	slog.Debug("Rename failed, falling back to copy", "src", src, "dst", dst, "error", err)
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

// Fail marks the session failed. Resources are released by Discard.
func (s *Session) Fail() {
	if !s.Status.IsTerminal() {
		s.Status = SessionFailed
	}
}

// Discard closes the handle and deletes the temp file. It may run on a
// different goroutine once the owner has dropped its reference.
func (s *Session) Discard() error {
	var errs []error
	if err := s.closeFile(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close temp file: %w", err))
	}
	if s.Status != SessionComplete {
		if err := s.removeTemp(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Session) closeFile() error {
	if s.file == nil {
		return nil
	}
	f := s.file
	s.file = nil
	return f.Close()
}

func (s *Session) removeTemp() error {
	if err := os.Remove(s.TempPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove temp file %s: %w", s.TempPath, err)
	}
	return nil
}

// Completion summarises a file successfully received and stored.
type Completion struct {
	TransferID string        `json:"transferId"`
	FileName   string        `json:"fileName"`
	FilePath   string        `json:"filePath"`
	Size       uint64        `json:"size"`
	Checksum   string        `json:"checksum"`
	MimeType   string        `json:"mimeType"`
	Duration   time.Duration `json:"duration"`
}

// Completion describes the committed file at path.
func (s *Session) Completion(path string) Completion {
	return Completion{
		TransferID: s.TransferID,
		FileName:   s.FileName,
		FilePath:   path,
		Size:       s.FileSize,
		Checksum:   s.checksum,
		MimeType:   s.MimeType,
		Duration:   s.now().Sub(s.StartTime),
	}
}
