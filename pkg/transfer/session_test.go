package transfer

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rescp17/lantransfer/pkg/protocol"
)

func sha(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func startFor(data []byte, chunkSize uint32) *protocol.FileStart {
	return &protocol.FileStart{
		Type:        protocol.TypeFileStart,
		TransferID:  "transfer-1",
		FileName:    "note.txt",
		FileSize:    uint64(len(data)),
		MimeType:    "text/plain",
		Checksum:    sha(data),
		TotalChunks: TotalChunksFor(uint64(len(data)), chunkSize),
		ChunkSize:   chunkSize,
	}
}

func newTestSession(t *testing.T, req *protocol.FileStart) *Session {
	t.Helper()
	s, err := NewSession(req, t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Discard() })
	return s
}

func writeAll(t *testing.T, s *Session, data []byte, order ...uint32) {
	t.Helper()
	size := int(s.ChunkSize)
	for _, idx := range order {
		start := int(idx) * size
		end := min(start+size, len(data))
		dup, err := s.WriteChunk(idx, data[start:end])
		require.NoError(t, err)
		require.False(t, dup)
	}
}

func TestCheckFileStart(t *testing.T) {
	cfg := DefaultTransferConfig()
	data := []byte("0123456789")

	tests := []struct {
		name   string
		mutate func(*protocol.FileStart)
		reason string
	}{
		{"valid", func(*protocol.FileStart) {}, ""},
		{"uppercase checksum", func(fs *protocol.FileStart) { fs.Checksum = strings.ToUpper(fs.Checksum) }, ""},
		{"single exact chunk", func(fs *protocol.FileStart) { fs.ChunkSize = 10; fs.TotalChunks = 1 }, ""},
		{"long transfer id", func(fs *protocol.FileStart) { fs.TransferID = strings.Repeat("x", MaxTransferIDLength+1) }, "transfer id"},
		{"directory name", func(fs *protocol.FileStart) { fs.FileName = ".." }, "invalid file name"},
		{"extension", func(fs *protocol.FileStart) { fs.FileName = "tool.sh" }, "file type"},
		{"mime type", func(fs *protocol.FileStart) { fs.MimeType = "application/x-sh" }, "mime type"},
		{"file size", func(fs *protocol.FileStart) { fs.FileSize = MaxFileSize + 1 }, "exceeds maximum"},
		{"zero chunk size", func(fs *protocol.FileStart) { fs.ChunkSize = 0 }, "chunk size"},
		{"chunk size", func(fs *protocol.FileStart) { fs.ChunkSize = MaxChunkSize + 1 }, "chunk size"},
		{"zero chunks", func(fs *protocol.FileStart) { fs.TotalChunks = 0 }, "at least 1"},
		{"chunk count above cap", func(fs *protocol.FileStart) {
			fs.ChunkSize = 1
			fs.FileSize = MaxTotalChunks + 1
			fs.TotalChunks = MaxTotalChunks + 1
		}, "total chunks"},
		{"chunk count at cap", func(fs *protocol.FileStart) {
			fs.ChunkSize = 1
			fs.FileSize = MaxTotalChunks
			fs.TotalChunks = MaxTotalChunks
		}, ""},
		{"too many chunks", func(fs *protocol.FileStart) { fs.TotalChunks = 4 }, "inconsistent"},
		{"too few chunks", func(fs *protocol.FileStart) { fs.TotalChunks = 2 }, "inconsistent"},
		{"zero size", func(fs *protocol.FileStart) { fs.FileSize = 0; fs.TotalChunks = 1 }, "inconsistent"},
		{"short checksum", func(fs *protocol.FileStart) { fs.Checksum = fs.Checksum[:63] }, "checksum"},
		{"non hex checksum", func(fs *protocol.FileStart) { fs.Checksum = strings.Repeat("g", 64) }, "checksum"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := startFor(data, 4)
			tt.mutate(req)

			err := CheckFileStart(req, cfg)
			if tt.reason == "" {
				assert.NoError(t, err)
				return
			}
			var rej *RejectionError
			require.ErrorAs(t, err, &rej)
			assert.Contains(t, rej.Reason, tt.reason)
		})
	}
}

func TestSafeFileName(t *testing.T) {
	tests := map[string]string{
		"note.txt":             "note.txt",
		"dir/note.txt":         "note.txt",
		"../../etc/passwd.txt": "passwd.txt",
		`C:\Users\me\note.txt`: "note.txt",
	}
	for in, want := range tests {
		got, err := SafeFileName(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", ".", "..", "/", "../"} {
		_, err := SafeFileName(bad)
		assert.ErrorIs(t, err, ErrInvalidFileName, "%q", bad)
	}
}

func TestSession_TenBytesInOrder(t *testing.T) {
	data := []byte("0123456789")
	s := newTestSession(t, startFor(data, 4))

	assert.Equal(t, 4, s.ExpectedChunkLen(0))
	assert.Equal(t, 4, s.ExpectedChunkLen(1))
	assert.Equal(t, 2, s.ExpectedChunkLen(2))

	writeAll(t, s, data, 0, 1, 2)
	assert.Equal(t, 3, s.ReceivedCount())
	assert.Equal(t, uint64(10), s.BytesReceived)
	assert.Empty(t, s.MissingChunks(0))
	assert.Zero(t, s.MissingCount())

	sum, err := s.Verify()
	require.NoError(t, err)
	assert.Equal(t, sha(data), sum)
	assert.Equal(t, SessionCompleting, s.Status)

	dest := t.TempDir()
	path, err := s.Commit(dest)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "note.txt"), path)
	assert.Equal(t, SessionComplete, s.Status)
	assert.NoFileExists(t, s.TempPath)

	stored, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, stored)

	c := s.Completion(path)
	assert.Equal(t, "transfer-1", c.TransferID)
	assert.Equal(t, sha(data), c.Checksum)
	assert.Equal(t, uint64(10), c.Size)
}

func TestSession_DuplicateChunkIsIgnored(t *testing.T) {
	data := []byte("0123456789")
	s := newTestSession(t, startFor(data, 4))

	writeAll(t, s, data, 0, 1, 2)

	dup, err := s.WriteChunk(1, []byte("XXXX"))
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, uint64(10), s.BytesReceived)
	assert.Equal(t, 3, s.ReceivedCount())

	_, err = s.Verify()
	require.NoError(t, err, "the resent bytes must not reach the file or the hash")

	path, err := s.Commit(t.TempDir())
	require.NoError(t, err)
	stored, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, stored)
}

func TestSession_OutOfOrderHashing(t *testing.T) {
	data := []byte(strings.Repeat("abcdefghij", 7))
	orders := map[string][]uint32{
		"reversed":     {17, 16, 15, 14, 13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1, 0},
		"interleaved":  {1, 0, 3, 2, 5, 4, 7, 6, 9, 8, 11, 10, 13, 12, 15, 14, 17, 16},
		"gap at start": {2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 1, 0},
	}

	for name, order := range orders {
		t.Run(name, func(t *testing.T) {
			s := newTestSession(t, startFor(data, 4))
			require.Equal(t, uint32(18), s.TotalChunks)

			writeAll(t, s, data, order...)
			sum, err := s.Verify()
			require.NoError(t, err)
			assert.Equal(t, sha(data), sum)
		})
	}
}

func TestSession_ChecksumMismatch(t *testing.T) {
	data := []byte("0123456789")
	s := newTestSession(t, startFor(data, 4))

	corrupted := append([]byte(nil), data...)
	corrupted[5] ^= 0x80
	writeAll(t, s, corrupted, 0, 1, 2)

	_, err := s.Verify()
	require.Error(t, err)
	assert.Equal(t, CodeChecksumMismatch, CodeOf(err))
	assert.Equal(t, SessionFailed, s.Status)

	require.NoError(t, s.Discard())
	assert.NoFileExists(t, s.TempPath)
}

func TestSession_IncompleteTransfer(t *testing.T) {
	data := []byte("abcdefghij")
	s := newTestSession(t, startFor(data, 1))

	writeAll(t, s, data, 9, 0, 2, 5, 6, 7, 8)
	assert.Equal(t, []uint32{1, 3, 4}, s.MissingChunks(0))
	assert.Equal(t, []uint32{1, 3}, s.MissingChunks(2))
	assert.Equal(t, 3, s.MissingCount())

	_, err := s.Verify()
	require.Error(t, err)
	assert.Equal(t, CodeIncompleteTransfer, CodeOf(err))
	assert.Contains(t, err.Error(), "missing 3 of 10 chunks: 1, 3, 4")

	require.NoError(t, s.Discard())
	assert.NoFileExists(t, s.TempPath)
}

func TestSession_RejectsBadChunks(t *testing.T) {
	data := []byte("0123456789")
	s := newTestSession(t, startFor(data, 4))

	_, err := s.WriteChunk(3, []byte("xx"))
	assert.ErrorIs(t, err, ErrChunkOutOfRange)

	_, err = s.WriteChunk(0, []byte("012"))
	assert.ErrorIs(t, err, ErrChunkSizeMismatch)

	_, err = s.WriteChunk(2, []byte("8901"))
	assert.ErrorIs(t, err, ErrChunkSizeMismatch, "the last chunk has exactly the remaining bytes")

	assert.Zero(t, s.BytesReceived)
	assert.Zero(t, s.ReceivedCount())

	s.Fail()
	_, err = s.WriteChunk(0, data[:4])
	assert.ErrorIs(t, err, ErrSessionNotReceiving)
}

func TestSession_CommitReplacesExistingFile(t *testing.T) {
	data := []byte("new")
	s := newTestSession(t, startFor(data, 4))
	writeAll(t, s, data, 0)

	dest := t.TempDir()
	target := filepath.Join(dest, "note.txt")
	require.NoError(t, os.WriteFile(target, []byte("old and longer"), 0o644))

	_, err := s.Verify()
	require.NoError(t, err)
	path, err := s.Commit(dest)
	require.NoError(t, err)

	stored, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, stored)
}

func TestSession_CommitFailureCleansUp(t *testing.T) {
	data := []byte("data")
	s := newTestSession(t, startFor(data, 4))
	writeAll(t, s, data, 0)
	_, err := s.Verify()
	require.NoError(t, err)

	// A regular file where the destination directory should be.
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	_, err = s.Commit(blocker)
	require.Error(t, err)
	assert.Equal(t, CodeMoveFailed, CodeOf(err))
	assert.Equal(t, SessionFailed, s.Status)
	assert.NoFileExists(t, s.TempPath)
}

func TestSession_DiscardIsIdempotent(t *testing.T) {
	data := []byte("0123456789")
	s := newTestSession(t, startFor(data, 4))
	writeAll(t, s, data, 0)

	s.Fail()
	assert.NoError(t, s.Discard())
	assert.NoError(t, s.Discard())
	assert.NoFileExists(t, s.TempPath)
}

func TestNewSession_TempFileName(t *testing.T) {
	req := startFor([]byte("abc"), 4)
	req.TransferID = "../weird id/with:chars"

	dir := t.TempDir()
	s, err := NewSession(req, dir, func() time.Time { return time.Unix(100, 0) })
	require.NoError(t, err)
	defer s.Discard()

	assert.Equal(t, dir, filepath.Dir(s.TempPath))
	assert.True(t, strings.HasPrefix(filepath.Base(s.TempPath), "___weird_id_with_chars-"))
	assert.True(t, strings.HasSuffix(s.TempPath, ".part"))
	assert.Equal(t, time.Unix(100, 0), s.StartTime)
}

func TestSession_Progress(t *testing.T) {
	data := []byte("0123456789")
	now := time.Unix(1000, 0)
	clock := func() time.Time { return now }

	s, err := NewSession(startFor(data, 4), t.TempDir(), clock)
	require.NoError(t, err)
	defer s.Discard()

	writeAll(t, s, data, 0)
	now = now.Add(2 * time.Second)

	p := s.Progress(now)
	assert.Equal(t, "transfer-1", p.TransferID)
	assert.Equal(t, 1, p.ChunksReceived)
	assert.Equal(t, uint32(3), p.TotalChunks)
	assert.Equal(t, uint64(4), p.BytesReceived)
	assert.InDelta(t, 40.0, p.Percentage, 0.001)
	assert.Equal(t, 2*time.Second, p.Elapsed)
	assert.InDelta(t, 2.0, p.Rate, 0.001)
	assert.Equal(t, uint64(6), p.RemainingBytes())
	assert.Equal(t, 3*time.Second, p.EstimatedRemaining)
	assert.False(t, p.IsComplete())

	writeAll(t, s, data, 1, 2)
	assert.True(t, s.Progress(now).IsComplete())
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeTimeout, CodeOf(ErrTransferTimeout))
	assert.Equal(t, CodeCancelled, CodeOf(errors.Join(errors.New("ctx"), ErrTransferCancelled)))
	assert.Equal(t, CodeMoveFailed, CodeOf(&TransferError{Code: CodeMoveFailed, Err: errors.New("x")}))
	assert.Equal(t, CodeWriteFailed, CodeOf(errors.New("disk on fire")))
}

func TestFormatMissing(t *testing.T) {
	assert.Equal(t, "", FormatMissing(nil, 0))
	assert.Equal(t, "1, 3, 4", FormatMissing([]uint32{1, 3, 4}, 3))

	many := make([]uint32, 25)
	for i := range many {
		many[i] = uint32(i * 2)
	}
	assert.Equal(t, "0, 2, 4, 6, 8, 10, 12, 14, 16, 18 ... (15 more)", FormatMissing(many, 25))
	assert.Equal(t, "0, 2, 4 ... (997 more)", FormatMissing(many[:3], 1000))
}

func TestSession_LargeIncompleteTransferReportsBoundedList(t *testing.T) {
	req := &protocol.FileStart{
		TransferID:  "sparse",
		FileName:    "big.txt",
		FileSize:    MaxTotalChunks,
		MimeType:    "text/plain",
		Checksum:    sha(nil),
		TotalChunks: MaxTotalChunks,
		ChunkSize:   1,
	}
	require.NoError(t, CheckFileStart(req, DefaultTransferConfig()))
	s := newTestSession(t, req)

	_, err := s.WriteChunk(0, []byte("a"))
	require.NoError(t, err)
	_, err = s.WriteChunk(MaxTotalChunks-1, []byte("z"))
	require.NoError(t, err)

	assert.Equal(t, MaxTotalChunks-2, s.MissingCount())
	assert.Equal(t, []uint32{1, 2, 3}, s.MissingChunks(3))

	allocs := testing.AllocsPerRun(5, func() {
		s.MissingChunks(missingListLimit)
	})
	assert.LessOrEqual(t, allocs, 1.0)

	_, err = s.Verify()
	require.Error(t, err)
	assert.Equal(t, CodeIncompleteTransfer, CodeOf(err))
	assert.Contains(t, err.Error(), "missing 1048574 of 1048576 chunks: 1, 2, 3, 4, 5, 6, 7, 8, 9, 10 ... (1048564 more)")
	require.NoError(t, s.Discard())
}

func TestChunkBitmap(t *testing.T) {
	b := newChunkBitmap(130)
	assert.Len(t, b.words, 3)

	assert.True(t, b.set(0))
	assert.False(t, b.set(0), "setting twice counts once")
	assert.True(t, b.set(63))
	assert.True(t, b.set(64))
	assert.True(t, b.set(129))
	assert.False(t, b.set(130), "out of range")

	assert.Equal(t, 4, b.count)
	assert.True(t, b.has(64))
	assert.False(t, b.has(65))
	assert.False(t, b.has(500))

	missing := b.missing(0)
	assert.Len(t, missing, 126)
	assert.Equal(t, uint32(1), missing[0])
	assert.Equal(t, uint32(128), missing[len(missing)-1])
	assert.Equal(t, []uint32{1, 2}, b.missing(2))

	for i := uint32(0); i < 130; i++ {
		b.set(i)
	}
	assert.Empty(t, b.missing(0))
}
