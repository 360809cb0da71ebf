package receiver

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/rescp17/lantransfer/pkg/protocol"
)

const (
	readBufferSize    = 64 * 1024
	outboxSize        = 1024
	closeFlushTimeout = 5 * time.Second
)

// peerConn is the single attached device. Its read and write goroutines only
// move bytes; buf is owned by the event loop.
type peerConn struct {
	id     uint64
	conn   net.Conn
	remote string

	outbox    chan []byte
	closing   chan struct{}
	closeOnce sync.Once

	buf []byte
}

func newPeerConn(id uint64, conn net.Conn) *peerConn {
	return &peerConn{
		id:      id,
		conn:    conn,
		remote:  conn.RemoteAddr().String(),
		outbox:  make(chan []byte, outboxSize),
		closing: make(chan struct{}),
	}
}

func (pc *peerConn) start(l *eventLoop) {
	go pc.readLoop(l)
	go pc.writeLoop()
}

func (pc *peerConn) readLoop(l *eventLoop) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := pc.conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if !l.post(dataEvent{peer: pc, data: data}) {
				return
			}
		}
		if err != nil {
			l.post(closeEvent{peer: pc, err: err})
			return
		}
	}
}

func (pc *peerConn) writeLoop() {
	for {
		select {
		case data := <-pc.outbox:
			if data == nil {
				pc.close()
				return
			}
			if _, err := pc.conn.Write(data); err != nil {
				slog.Warn("Failed to write to peer", "remote", pc.remote, "error", err)
				pc.close()
				return
			}
		case <-pc.closing:
			return
		}
	}
}

// send queues msg without blocking the event loop. A peer that lets the
// queue fill up is disconnected.
func (pc *peerConn) send(msg protocol.Message) {
	data, err := protocol.EncodeMessage(msg)
	if err != nil {
		slog.Error("Failed to encode outbound message", "type", msg.MessageType(), "error", err)
		return
	}
	pc.enqueue(data)
}

// sendThenClose queues msg and closes the connection once it is flushed.
func (pc *peerConn) sendThenClose(msg protocol.Message) {
	if err := pc.conn.SetWriteDeadline(time.Now().Add(closeFlushTimeout)); err != nil {
		slog.Debug("Failed to set write deadline", "error", err)
	}
	pc.send(msg)
	pc.enqueue(nil)
}

func (pc *peerConn) enqueue(data []byte) {
	select {
	case <-pc.closing:
		return
	default:
	}

	select {
	case pc.outbox <- data:
	default:
		slog.Warn("Outbound queue full, disconnecting peer", "remote", pc.remote)
		pc.close()
	}
}

func (pc *peerConn) close() {
	pc.closeOnce.Do(func() {
		close(pc.closing)
		if err := pc.conn.Close(); err != nil {
			slog.Debug("Error closing peer connection", "remote", pc.remote, "error", err)
		}
	})
}
