package receiver

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/rescp17/lantransfer/pkg/protocol"
	"github.com/rescp17/lantransfer/pkg/transfer"
)

const eventQueueSize = 256

type event interface{}

type (
	acceptEvent struct {
		conn net.Conn
	}
	dataEvent struct {
		peer *peerConn
		data []byte
	}
	closeEvent struct {
		peer *peerConn
		err  error
	}
	transferTimeoutEvent struct {
		gen uint64
	}
	handshakeTimeoutEvent struct {
		gen uint64
	}
	finalizeEvent struct {
		session *transfer.Session
		path    string
		err     error
	}
	throttleEvent struct{}
	stopEvent     struct{}
)

// eventLoop owns every piece of mutable protocol state. Only run touches the
// fields below events/quit/done.
type eventLoop struct {
	srv *Server
	cfg *Config

	events   chan event
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	addr           string
	status         transfer.ServerStatus
	client         *protocol.ClientInfo
	peer           *peerConn
	session        *transfer.Session
	lastCompletion *transfer.Completion
	lastError      string

	// finalizing holds the session's last progress while Verify and Commit
	// run off the loop. The session must not be touched until finalizeEvent.
	finalizing *transfer.Progress

	nextPeerID       uint64
	transferDeadline deadline
	handshakeTimer   deadline
	progress         throttle
}

func newEventLoop(srv *Server, addr string, lastCompletion *transfer.Completion) *eventLoop {
	return &eventLoop{
		srv:            srv,
		cfg:            &srv.cfg,
		events:         make(chan event, eventQueueSize),
		quit:           make(chan struct{}),
		done:           make(chan struct{}),
		addr:           addr,
		status:         transfer.StatusStarting,
		lastCompletion: lastCompletion,
		progress:       throttle{interval: srv.cfg.Transfer.StateThrottleInterval},
	}
}

// post hands ev to the loop. It returns false once the loop has exited.
func (l *eventLoop) post(ev event) bool {
	select {
	case l.events <- ev:
		return true
	case <-l.quit:
		return false
	}
}

func (l *eventLoop) stop() {
	l.stopOnce.Do(func() {
		l.post(stopEvent{})
	})
	<-l.done
}

func (l *eventLoop) run() {
	defer close(l.done)
	defer close(l.quit)

	l.setStatus(transfer.StatusListening)
	l.publish()

	for ev := range l.events {
		if !l.handle(ev) {
			return
		}
	}
}

// handle processes one event and reports whether the loop keeps running.
func (l *eventLoop) handle(ev event) bool {
	switch ev := ev.(type) {
	case acceptEvent:
		l.onAccept(ev.conn)
	case dataEvent:
		if ev.peer == l.peer {
			l.onData(ev.peer, ev.data)
		}
	case closeEvent:
		if ev.peer == l.peer {
			l.onClose(ev.peer, ev.err)
		}
	case transferTimeoutEvent:
		if l.transferDeadline.current(ev.gen) {
			l.onTransferTimeout()
		}
	case handshakeTimeoutEvent:
		if l.handshakeTimer.current(ev.gen) {
			l.onHandshakeTimeout()
		}
	case finalizeEvent:
		l.onFinalized(ev)
	case throttleEvent:
		if l.progress.pending() {
			l.progress.fired()
			l.requestProgress()
		}
	case stopEvent:
		l.shutdown()
		return false
	default:
		slog.Error("Unknown receiver event", "event", ev)
	}
	return true
}

func (l *eventLoop) onAccept(conn net.Conn) {
	if l.peer != nil {
		slog.Info("New connection replaces current peer", "old", l.peer.remote, "new", conn.RemoteAddr().String())
		l.dropPeer(errors.New("connection replaced by a new peer"))
	}

	l.nextPeerID++
	pc := newPeerConn(l.nextPeerID, conn)
	l.peer = pc
	pc.start(l)

	slog.Info("Peer connected", "remote", pc.remote)
	l.handshakeTimer.arm(l.cfg.Transfer.HandshakeTimeout, func(gen uint64) {
		l.post(handshakeTimeoutEvent{gen: gen})
	})
	l.setStatus(transfer.StatusHandshaking)
	l.publish()
}

// onData appends bytes to the peer's buffer and drains every complete
// message from it. A handler may drop the peer, which ends the drain.
func (l *eventLoop) onData(pc *peerConn, data []byte) {
	pc.buf = append(pc.buf, data...)

	for len(pc.buf) > 0 && l.peer == pc {
		res := protocol.Parse(pc.buf)
		if res.Kind == protocol.KindIncomplete {
			break
		}
		switch res.Kind {
		case protocol.KindSkip:
			slog.Debug("Skipping unrecognised bytes", "count", res.Consumed, "remote", pc.remote)
		case protocol.KindBinaryChunk:
			l.onBinaryChunk(res.Chunk)
		case protocol.KindJSON:
			l.onMessage(pc, res.JSON)
		}
		pc.buf = pc.buf[res.Consumed:]
	}

	if len(pc.buf) == 0 {
		pc.buf = nil
	}
}

func (l *eventLoop) onClose(pc *peerConn, err error) {
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		slog.Info("Peer disconnected", "remote", pc.remote)
	} else {
		slog.Warn("Peer connection failed", "remote", pc.remote, "error", err)
	}
	l.dropPeer(errors.New("connection closed"))
	l.setStatus(transfer.StatusListening)
	l.publish()
}

// dropPeer tears down the connection, its transfer and the client info.
// The peer is not told anything; the connection is going away.
func (l *eventLoop) dropPeer(reason error) {
	if l.session != nil {
		l.abortTransfer(reason, false)
	}
	l.handshakeTimer.stop()
	if l.peer != nil {
		l.peer.close()
		l.peer = nil
	}
	l.client = nil
	if l.status.HasPeer() {
		l.setStatus(transfer.StatusListening)
	}
}

func (l *eventLoop) shutdown() {
	l.dropPeer(errors.New("server stopped"))
	l.progress.sent(l.srv.now())
	l.addr = ""
	l.setStatus(transfer.StatusIdle)
	l.publish()
}

func (l *eventLoop) setStatus(next transfer.ServerStatus) {
	if l.status == next {
		return
	}
	if !l.status.CanTransitionTo(next) {
		slog.Error("Illegal status transition", "from", l.status, "to", next)
		return
	}
	slog.Debug("Receiver status changed", "from", l.status, "to", next)
	l.status = next
}

// snapshot builds the state handed to observers.
func (l *eventLoop) snapshot() State {
	now := l.srv.now()
	st := State{
		Status:         l.status,
		Addr:           l.addr,
		Client:         l.client,
		LastCompletion: l.lastCompletion,
		LastError:      l.lastError,
		UpdatedAt:      now,
	}
	switch {
	case l.finalizing != nil:
		p := *l.finalizing
		st.Transfer = &p
	case l.session != nil:
		p := l.session.Progress(now)
		st.Transfer = &p
	}
	return st
}

// publish broadcasts the current state immediately.
func (l *eventLoop) publish() {
	l.progress.sent(l.srv.now())
	l.srv.pub.Publish(l.snapshot())
}

// requestProgress broadcasts through the throttle.
func (l *eventLoop) requestProgress() {
	if l.progress.pending() {
		return
	}
	if wait := l.progress.wait(l.srv.now()); wait > 0 {
		l.progress.schedule(wait, func() { l.post(throttleEvent{}) })
		return
	}
	l.publish()
}
