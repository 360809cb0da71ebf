package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Binary chunk frame layout, all integers big-endian:
//
//	magic(2) | totalLen(4) | type(1) | idLen(2) | transferId(idLen) | chunkIndex(4) | data
//
// totalLen counts every byte after itself.
const (
	FrameTypeFileChunk byte = 0x01

	frameHeaderLen = 2 + 4
	frameFixedBody = 1 + 2 + 4
	maxTransferID  = 0xFFFF

	// MaxChunkDataLength is the largest chunk payload a frame can carry.
	// Receivers must not accept a chunk size above it.
	MaxChunkDataLength = 16 << 20

	// MaxFrameLength bounds totalLen: the fixed body, the longest transfer id
	// and the largest payload. Anything larger is treated as corruption.
	MaxFrameLength = frameFixedBody + maxTransferID + MaxChunkDataLength

	MaxMessageBytes = 4 << 20 // a JSON message without terminator beyond this size is dropped
)

var (
	// FrameMagic prefixes every binary frame ("LT").
	FrameMagic = [2]byte{0x4C, 0x54}

	// MessageTerminator ends every JSON control message. Compact JSON never
	// contains raw CR/LF, so the sequence cannot occur inside a message.
	MessageTerminator = []byte("\r\n\r\n")

	ErrTransferIDTooLong = errors.New("transfer id too long for frame header")
	ErrFrameTooLarge     = errors.New("frame exceeds maximum length")
)

// Kind tags the outcome of Parse.
type Kind int

const (
	// KindIncomplete means more bytes are needed; nothing was consumed.
	KindIncomplete Kind = iota
	// KindSkip means Consumed leading bytes are garbage and must be dropped.
	KindSkip
	// KindBinaryChunk means a complete chunk frame was decoded.
	KindBinaryChunk
	// KindJSON means a complete JSON message was located.
	KindJSON
)

func (k Kind) String() string {
	switch k {
	case KindIncomplete:
		return "incomplete"
	case KindSkip:
		return "skip"
	case KindBinaryChunk:
		return "binary_chunk"
	case KindJSON:
		return "json"
	default:
		return "unknown"
	}
}

// BinaryChunk is the payload of one decoded chunk frame.
type BinaryChunk struct {
	TransferID string
	ChunkIndex uint32
	Data       []byte
}

// Result is what Parse found at the head of the buffer. The caller owns the
// buffer and removes the first Consumed bytes before parsing again.
type Result struct {
	Kind     Kind
	Consumed int
	Chunk    *BinaryChunk
	JSON     []byte
}

// Parse inspects the head of buf. It never mutates buf and never blocks.
// Returned chunk data and JSON text are copies, so buf may be reused.
func Parse(buf []byte) Result {
	if len(buf) == 0 {
		return Result{Kind: KindIncomplete}
	}

	if buf[0] == FrameMagic[0] {
		if len(buf) < 2 {
			return Result{Kind: KindIncomplete}
		}
		if buf[1] == FrameMagic[1] {
			return parseFrame(buf)
		}
	}

	if buf[0] == '{' {
		return parseJSON(buf)
	}

	return Result{Kind: KindSkip, Consumed: 1}
}

func parseFrame(buf []byte) Result {
	if len(buf) < frameHeaderLen {
		return Result{Kind: KindIncomplete}
	}

	totalLen := binary.BigEndian.Uint32(buf[2:6])
	if totalLen > MaxFrameLength || totalLen < frameFixedBody {
		// Length field is garbage; resynchronise byte by byte.
		return Result{Kind: KindSkip, Consumed: 1}
	}

	frameLen := frameHeaderLen + int(totalLen)
	if len(buf) < frameLen {
		return Result{Kind: KindIncomplete}
	}

	frame := buf[:frameLen]
	frameType := frame[6]
	idLen := int(binary.BigEndian.Uint16(frame[7:9]))

	if int(totalLen) < frameFixedBody+idLen {
		return Result{Kind: KindSkip, Consumed: frameLen}
	}
	if frameType != FrameTypeFileChunk {
		return Result{Kind: KindSkip, Consumed: frameLen}
	}

	idStart := 9
	idxStart := idStart + idLen
	dataStart := idxStart + 4

	data := make([]byte, frameLen-dataStart)
	copy(data, frame[dataStart:])

	return Result{
		Kind:     KindBinaryChunk,
		Consumed: frameLen,
		Chunk: &BinaryChunk{
			TransferID: string(frame[idStart:idxStart]),
			ChunkIndex: binary.BigEndian.Uint32(frame[idxStart:dataStart]),
			Data:       data,
		},
	}
}

func parseJSON(buf []byte) Result {
	end := bytes.Index(buf, MessageTerminator)
	if end < 0 {
		if len(buf) >= MaxMessageBytes {
			return Result{Kind: KindSkip, Consumed: 1}
		}
		return Result{Kind: KindIncomplete}
	}

	text := make([]byte, end)
	copy(text, buf[:end])
	return Result{
		Kind:     KindJSON,
		Consumed: end + len(MessageTerminator),
		JSON:     text,
	}
}

// EncodeChunkFrame builds the binary frame for one chunk.
func EncodeChunkFrame(transferID string, chunkIndex uint32, data []byte) ([]byte, error) {
	if len(transferID) > maxTransferID {
		return nil, ErrTransferIDTooLong
	}

	if len(data) > MaxChunkDataLength {
		return nil, fmt.Errorf("%w: %d bytes of chunk data", ErrFrameTooLarge, len(data))
	}
	totalLen := frameFixedBody + len(transferID) + len(data)

	frame := make([]byte, frameHeaderLen+totalLen)
	frame[0] = FrameMagic[0]
	frame[1] = FrameMagic[1]
	binary.BigEndian.PutUint32(frame[2:6], uint32(totalLen))
	frame[6] = FrameTypeFileChunk
	binary.BigEndian.PutUint16(frame[7:9], uint16(len(transferID)))
	off := 9 + copy(frame[9:], transferID)
	binary.BigEndian.PutUint32(frame[off:off+4], chunkIndex)
	copy(frame[off+4:], data)

	return frame, nil
}
