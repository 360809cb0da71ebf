package transfer

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rescp17/lantransfer/pkg/fileInfo"
)

// Chunk is one slice of a file as the sender puts it on the wire.
type Chunk struct {
	Index  uint32
	Offset int64
	Data   []byte
	IsLast bool
}

// Chunker reads a file sequentially in fixed-size chunks.
type Chunker struct {
	file          *os.File
	chunkSize     uint32
	totalChunks   uint32
	currentIndex  uint32
	totalByteSize int64
	bytesRead     int64
	buffer        []byte
}

var ErrEmptyFile = errors.New("cannot chunk an empty file")

// TotalChunksFor returns how many chunks of chunkSize cover size bytes.
func TotalChunksFor(size uint64, chunkSize uint32) uint32 {
	if chunkSize == 0 {
		return 0
	}
	return uint32((size + uint64(chunkSize) - 1) / uint64(chunkSize))
}

func NewChunkerFromFileNode(node *fileInfo.FileNode, chunkSize uint32) (*Chunker, error) {
	if chunkSize == 0 || chunkSize > MaxChunkSize {
		return nil, fmt.Errorf("chunk size must be between 1 and %d", MaxChunkSize)
	}
	if node.Size <= 0 {
		return nil, ErrEmptyFile
	}

	file, err := os.Open(node.Path)
	if err != nil {
		return nil, err
	}

	return &Chunker{
		file:          file,
		chunkSize:     chunkSize,
		totalChunks:   TotalChunksFor(uint64(node.Size), chunkSize),
		totalByteSize: node.Size,
		buffer:        make([]byte, chunkSize),
	}, nil
}

// TotalChunks is the number of chunks Next will produce.
func (c *Chunker) TotalChunks() uint32 {
	return c.totalChunks
}

// Next returns the next chunk, or io.EOF once the file is exhausted.
// The returned data is a fresh copy.
func (c *Chunker) Next() (*Chunk, error) {
	if c.bytesRead >= c.totalByteSize {
		return nil, io.EOF
	}

	n, err := io.ReadFull(c.file, c.buffer)
	if n == 0 {
		if err == nil || errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		return nil, err
	}
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}

	offset := c.bytesRead
	c.bytesRead += int64(n)

	data := make([]byte, n)
	copy(data, c.buffer[:n])

	chunk := &Chunk{
		Index:  c.currentIndex,
		Offset: offset,
		Data:   data,
		IsLast: c.bytesRead >= c.totalByteSize,
	}
	c.currentIndex++
	return chunk, nil
}

func (c *Chunker) Close() error {
	return c.file.Close()
}
