package sender

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rescp17/lantransfer/pkg/fileInfo"
	"github.com/rescp17/lantransfer/pkg/protocol"
	"github.com/rescp17/lantransfer/pkg/transfer"
)

var (
	ErrHandshakeRejected = errors.New("handshake rejected")
	ErrFileRejected      = errors.New("file rejected by receiver")
	ErrChunkRejected     = errors.New("chunk rejected by receiver")
	ErrConnectionClosed  = errors.New("connection closed")
)

// TransferFailedError is a file_complete with success=false.
type TransferFailedError struct {
	TransferID string
	Code       transfer.ErrorCode
	Message    string
}

func (e *TransferFailedError) Error() string {
	return fmt.Sprintf("transfer %s failed (%s): %s", e.TransferID, e.Code, e.Message)
}

// Options controls how a Client identifies itself and sends files.
type Options struct {
	DeviceName string
	AppVersion string
	// ChunkSize of 0 picks a size from the file length.
	ChunkSize uint32
	// JSONChunks sends base64 file_chunk messages instead of binary frames.
	JSONChunks bool
	// ReplyTimeout bounds each wait for a receiver reply.
	ReplyTimeout time.Duration
	OnProgress   func(Progress)
}

// Progress reports how much of a file has been written to the socket.
type Progress struct {
	TransferID  string
	FileName    string
	ChunksSent  uint32
	TotalChunks uint32
	BytesSent   uint64
	TotalBytes  uint64
}

// Result describes a file the receiver stored.
type Result struct {
	TransferID string
	FileName   string
	FilePath   string // path on the receiver
	Size       uint64
	Checksum   string
	Duration   time.Duration
}

const replyQueueSize = 4096

// Client speaks the transfer protocol to a single receiver.
type Client struct {
	conn    net.Conn
	opts    Options
	writeMu sync.Mutex

	replies chan protocol.Message
	readErr error
	done    chan struct{}
}

// Dial connects to addr without performing the handshake.
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return NewClient(conn, opts), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn, opts Options) *Client {
	if opts.ReplyTimeout <= 0 {
		opts.ReplyTimeout = 30 * time.Second
	}
	c := &Client{
		conn:    conn,
		opts:    opts,
		replies: make(chan protocol.Message, replyQueueSize),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.replies)

	var pending []byte
	buf := make([]byte, 32*1024)
	for {
		n, err := c.conn.Read(buf)
		pending = append(pending, buf[:n]...)

		for len(pending) > 0 {
			res := protocol.Parse(pending)
			if res.Kind == protocol.KindIncomplete {
				break
			}
			if res.Kind == protocol.KindJSON {
				msg, derr := protocol.DecodeReply(res.JSON)
				if derr != nil {
					slog.Warn("Ignoring unreadable reply", "error", derr)
				} else {
					c.replies <- msg
				}
			}
			pending = pending[res.Consumed:]
		}

		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				err = ErrConnectionClosed
			}
			c.readErr = err
			return
		}
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	return err
}

// Send writes one control message.
func (c *Client) Send(msg protocol.Message) error {
	data, err := protocol.EncodeMessage(msg)
	if err != nil {
		return err
	}
	return c.Write(data)
}

// SendFrame writes one binary chunk frame.
func (c *Client) SendFrame(transferID string, index uint32, data []byte) error {
	frame, err := protocol.EncodeChunkFrame(transferID, index, data)
	if err != nil {
		return err
	}
	return c.Write(frame)
}

// Write puts raw bytes on the wire.
func (c *Client) Write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("failed to write to receiver: %w", err)
	}
	return nil
}

// Next returns the next reply from the receiver.
func (c *Client) Next(ctx context.Context) (protocol.Message, error) {
	select {
	case msg, ok := <-c.replies:
		if !ok {
			return nil, c.readErr
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Await skips replies until match accepts one, or the reply timeout expires.
func (c *Client) Await(ctx context.Context, match func(protocol.Message) bool) (protocol.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.ReplyTimeout)
	defer cancel()

	for {
		msg, err := c.Next(ctx)
		if err != nil {
			return nil, err
		}
		if match(msg) {
			return msg, nil
		}
		slog.Debug("Skipping reply", "type", msg.MessageType())
	}
}

// Handshake introduces the client. A rejection closes the connection on the
// receiver side and is returned as ErrHandshakeRejected.
func (c *Client) Handshake(ctx context.Context) (*protocol.HandshakeAck, error) {
	return c.HandshakeVersion(ctx, protocol.Version)
}

// HandshakeVersion is Handshake with an explicit protocol version.
func (c *Client) HandshakeVersion(ctx context.Context, version string) (*protocol.HandshakeAck, error) {
	hs := &protocol.Handshake{
		Type:       protocol.TypeHandshake,
		Version:    version,
		Platform:   runtime.GOOS,
		DeviceName: c.opts.DeviceName,
	}
	if c.opts.AppVersion != "" {
		v := c.opts.AppVersion
		hs.AppVersion = &v
	}
	if err := c.Send(hs); err != nil {
		return nil, err
	}

	msg, err := c.Await(ctx, isType(protocol.TypeHandshakeAck))
	if err != nil {
		return nil, fmt.Errorf("waiting for handshake_ack: %w", err)
	}
	ack := msg.(*protocol.HandshakeAck)
	if !ack.Accepted {
		return ack, fmt.Errorf("%w: %s", ErrHandshakeRejected, ack.Message)
	}
	return ack, nil
}

// Ping sends a ping and waits for the pong.
func (c *Client) Ping(ctx context.Context, payload string) (*protocol.Pong, error) {
	if err := c.Send(&protocol.Ping{Type: protocol.TypePing, Payload: &payload}); err != nil {
		return nil, err
	}
	msg, err := c.Await(ctx, isType(protocol.TypePong))
	if err != nil {
		return nil, fmt.Errorf("waiting for pong: %w", err)
	}
	return msg.(*protocol.Pong), nil
}

// StartFile announces a file and waits for the receiver's decision.
func (c *Client) StartFile(ctx context.Context, start *protocol.FileStart) error {
	start.Type = protocol.TypeFileStart
	if err := c.Send(start); err != nil {
		return err
	}

	msg, err := c.Await(ctx, func(m protocol.Message) bool {
		ack, ok := m.(*protocol.FileStartAck)
		return ok && ack.TransferID == start.TransferID
	})
	if err != nil {
		return fmt.Errorf("waiting for file_start_ack: %w", err)
	}
	if ack := msg.(*protocol.FileStartAck); !ack.Accepted {
		return fmt.Errorf("%w: %s", ErrFileRejected, ack.Message)
	}
	return nil
}

// EndFile sends file_end and waits for the matching file_complete.
func (c *Client) EndFile(ctx context.Context, transferID string) (*protocol.FileComplete, error) {
	if err := c.Send(&protocol.FileEnd{Type: protocol.TypeFileEnd, TransferID: transferID}); err != nil {
		return nil, err
	}
	msg, err := c.Await(ctx, isComplete(transferID))
	if err != nil {
		return nil, fmt.Errorf("waiting for file_complete: %w", err)
	}
	return msg.(*protocol.FileComplete), nil
}

// Cancel asks the receiver to abandon transferID.
func (c *Client) Cancel(transferID, reason string) error {
	return c.Send(&protocol.FileCancel{Type: protocol.TypeFileCancel, TransferID: transferID, Reason: reason})
}

// SendFile transfers the file at path and returns once the receiver has
// verified and stored it.
func (c *Client) SendFile(ctx context.Context, path string) (*Result, error) {
	node, err := fileInfo.CreateNode(path)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect %s: %w", path, err)
	}
	if node.Size == 0 {
		return nil, transfer.ErrEmptyFile
	}

	chunkSize := c.opts.ChunkSize
	if chunkSize == 0 {
		chunkSize = transfer.DefaultTransferConfig().ChunkSizeForFile(uint64(node.Size))
	}

	chunker, err := transfer.NewChunkerFromFileNode(&node, chunkSize)
	if err != nil {
		return nil, err
	}
	defer chunker.Close()

	start := &protocol.FileStart{
		TransferID:  uuid.NewString(),
		FileName:    node.Name,
		FileSize:    uint64(node.Size),
		MimeType:    node.MimeType,
		Checksum:    node.Checksum,
		TotalChunks: chunker.TotalChunks(),
		ChunkSize:   chunkSize,
	}

	started := time.Now()
	slog.Info("Sending file", "fileName", start.FileName, "size", start.FileSize, "chunks", start.TotalChunks, "transferId", start.TransferID)
	if err := c.StartFile(ctx, start); err != nil {
		return nil, err
	}

	if err := c.stream(ctx, start, chunker); err != nil {
		if cerr := c.Cancel(start.TransferID, err.Error()); cerr != nil {
			slog.Debug("Failed to send file_cancel", "error", cerr)
		}
		return nil, err
	}

	complete, err := c.EndFile(ctx, start.TransferID)
	if err != nil {
		return nil, err
	}
	if !complete.Success {
		return nil, failure(complete)
	}

	return &Result{
		TransferID: start.TransferID,
		FileName:   start.FileName,
		FilePath:   complete.FilePath,
		Size:       start.FileSize,
		Checksum:   start.Checksum,
		Duration:   time.Since(started),
	}, nil
}

// stream writes every chunk while a second goroutine watches the replies:
// chunk acks in JSON mode and an early file_complete in either mode.
func (c *Client) stream(ctx context.Context, start *protocol.FileStart, chunker *transfer.Chunker) error {
	g, gctx := errgroup.WithContext(ctx)
	sent := make(chan struct{})

	g.Go(func() error {
		defer close(sent)
		progress := Progress{
			TransferID:  start.TransferID,
			FileName:    start.FileName,
			TotalChunks: start.TotalChunks,
			TotalBytes:  start.FileSize,
		}
		for {
			if err := gctx.Err(); err != nil {
				return err
			}
			chunk, err := chunker.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to read chunk: %w", err)
			}

			if c.opts.JSONChunks {
				err = c.Send(protocol.NewFileChunk(start.TransferID, chunk.Index, chunk.Data))
			} else {
				err = c.SendFrame(start.TransferID, chunk.Index, chunk.Data)
			}
			if err != nil {
				return err
			}

			progress.ChunksSent++
			progress.BytesSent += uint64(len(chunk.Data))
			if c.opts.OnProgress != nil {
				c.opts.OnProgress(progress)
			}
		}
	})

	g.Go(func() error {
		return c.watch(gctx, start.TransferID, start.TotalChunks, sent)
	})

	return g.Wait()
}

func (c *Client) watch(ctx context.Context, transferID string, total uint32, sent <-chan struct{}) error {
	var acked uint32
	for {
		if c.opts.JSONChunks && acked == total {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sent:
			if !c.opts.JSONChunks {
				return nil
			}
			sent = nil
		case msg, ok := <-c.replies:
			if !ok {
				return c.readErr
			}
			switch m := msg.(type) {
			case *protocol.FileChunkAck:
				if m.TransferID != transferID {
					continue
				}
				if !m.Success {
					return fmt.Errorf("%w: chunk %d: %s", ErrChunkRejected, m.ChunkIndex, m.Error)
				}
				acked++
			case *protocol.FileComplete:
				if m.TransferID == transferID {
					return failure(m)
				}
			}
		}
	}
}

func failure(m *protocol.FileComplete) error {
	return &TransferFailedError{
		TransferID: m.TransferID,
		Code:       transfer.ErrorCode(m.ErrorCode),
		Message:    m.Error,
	}
}

func isType(t protocol.MessageType) func(protocol.Message) bool {
	return func(m protocol.Message) bool { return m.MessageType() == t }
}

func isComplete(transferID string) func(protocol.Message) bool {
	return func(m protocol.Message) bool {
		fc, ok := m.(*protocol.FileComplete)
		return ok && fc.TransferID == transferID
	}
}
