package transfer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrorCode is reported to the peer in file_complete.errorCode.
type ErrorCode string

const (
	CodeIncompleteTransfer ErrorCode = "INCOMPLETE_TRANSFER"
	CodeChecksumMismatch   ErrorCode = "CHECKSUM_MISMATCH"
	CodeWriteFailed        ErrorCode = "WRITE_FAILED"
	CodeMoveFailed         ErrorCode = "MOVE_FAILED"
	CodeTimeout            ErrorCode = "TRANSFER_TIMEOUT"
	CodeCancelled          ErrorCode = "TRANSFER_CANCELLED"
	CodeInvalidTransfer    ErrorCode = "INVALID_TRANSFER"
)

var (
	ErrSessionNotReceiving = errors.New("session is not receiving")
	ErrChunkOutOfRange     = errors.New("chunk index out of range")
	ErrChunkSizeMismatch   = errors.New("chunk size mismatch")
	ErrInvalidFileName     = errors.New("invalid file name")
	ErrTransferTimeout     = errors.New("transfer timed out")
	ErrTransferCancelled   = errors.New("transfer cancelled")
)

// TransferError is a failure that ends a transfer and is reported to the peer.
type TransferError struct {
	Code ErrorCode
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

func newTransferError(code ErrorCode, format string, args ...any) *TransferError {
	return &TransferError{Code: code, Err: fmt.Errorf(format, args...)}
}

// CodeOf extracts the error code of err, defaulting to WRITE_FAILED for
// unclassified I/O failures.
func CodeOf(err error) ErrorCode {
	var te *TransferError
	if errors.As(err, &te) {
		return te.Code
	}
	switch {
	case errors.Is(err, ErrTransferTimeout):
		return CodeTimeout
	case errors.Is(err, ErrTransferCancelled):
		return CodeCancelled
	}
	return CodeWriteFailed
}

// RejectionError explains why a file_start was refused.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string { return e.Reason }

func reject(format string, args ...any) error {
	return &RejectionError{Reason: fmt.Sprintf(format, args...)}
}

const missingListLimit = 10

// FormatMissing renders the first missing chunk indices out of total,
// truncated for readability.
func FormatMissing(missing []uint32, total int) string {
	shown := missing
	if len(shown) > missingListLimit {
		shown = shown[:missingListLimit]
	}

	parts := make([]string, len(shown))
	for i, idx := range shown {
		parts[i] = strconv.FormatUint(uint64(idx), 10)
	}

	out := strings.Join(parts, ", ")
	if rest := total - len(shown); rest > 0 {
		out += fmt.Sprintf(" ... (%d more)", rest)
	}
	return out
}
