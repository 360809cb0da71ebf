package receiver

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gabriel-vasile/mimetype"

	"github.com/rescp17/lantransfer/pkg/protocol"
	"github.com/rescp17/lantransfer/pkg/transfer"
)

var (
	errNoActiveTransfer = errors.New("no active transfer")
	errTransferMismatch = errors.New("transfer id does not match the active transfer")
	errFinalizing       = errors.New("transfer is being finalized")
)

func (l *eventLoop) onMessage(pc *peerConn, text []byte) {
	msg, err := protocol.ParseMessage(text)
	if err != nil {
		slog.Warn("Dropping invalid message", "remote", pc.remote, "error", err)
		return
	}

	switch m := msg.(type) {
	case *protocol.Handshake:
		l.onHandshake(pc, m)
	case *protocol.Ping:
		l.onPing(pc, m)
	case *protocol.FileStart:
		l.onFileStart(pc, m)
	case *protocol.FileChunk:
		l.onFileChunk(pc, m)
	case *protocol.FileEnd:
		l.onFileEnd(pc, m)
	case *protocol.FileCancel:
		l.onFileCancel(m)
	default:
		slog.Warn("Unhandled message type", "type", msg.MessageType())
	}
}

func (l *eventLoop) onHandshake(pc *peerConn, m *protocol.Handshake) {
	if l.status == transfer.StatusReceivingFile {
		slog.Warn("Handshake received during transfer", "remote", pc.remote)
		pc.send(&protocol.HandshakeAck{
			Type:    protocol.TypeHandshakeAck,
			Message: "cannot handshake while a transfer is in progress",
		})
		return
	}

	if m.Version != protocol.Version {
		slog.Warn("Rejecting handshake with unsupported protocol version",
			"remote", pc.remote, "version", m.Version, "expected", protocol.Version)
		pc.sendThenClose(&protocol.HandshakeAck{
			Type:    protocol.TypeHandshakeAck,
			Message: fmt.Sprintf("unsupported protocol version %q, expected %q", m.Version, protocol.Version),
		})
		// The writer closes the socket once the rejection is flushed.
		l.peer = nil
		l.dropPeer(errors.New("handshake rejected"))
		l.publish()
		return
	}

	info := m.ClientInfo()
	l.client = &info
	l.handshakeTimer.stop()
	pc.send(&protocol.HandshakeAck{
		Type:     protocol.TypeHandshakeAck,
		Accepted: true,
		Message:  l.cfg.DeviceName,
	})

	slog.Info("Handshake accepted", "device", info.DeviceName, "platform", info.Platform, "remote", pc.remote)
	l.setStatus(transfer.StatusConnected)
	l.publish()
}

func (l *eventLoop) onPing(pc *peerConn, m *protocol.Ping) {
	if l.status != transfer.StatusConnected && l.status != transfer.StatusReceivingFile {
		slog.Debug("Ignoring ping before handshake", "remote", pc.remote)
		return
	}
	pc.send(&protocol.Pong{Type: protocol.TypePong, Received: true, Payload: m.Payload})
}

func (l *eventLoop) onFileStart(pc *peerConn, m *protocol.FileStart) {
	refuse := func(reason string) {
		pc.send(&protocol.FileStartAck{
			Type:       protocol.TypeFileStartAck,
			TransferID: m.TransferID,
			Message:    reason,
		})
	}

	if l.status != transfer.StatusConnected || l.session != nil {
		slog.Warn("Rejecting file_start in wrong state", "status", l.status, "transferId", m.TransferID)
		refuse(fmt.Sprintf("cannot start a transfer while %s", l.status))
		return
	}

	if err := transfer.CheckFileStart(m, l.cfg.Transfer); err != nil {
		slog.Warn("Rejecting file_start", "transferId", m.TransferID, "fileName", m.FileName, "reason", err)
		refuse(err.Error())
		return
	}

	session, err := transfer.NewSession(m, l.cfg.TempDir, l.srv.now)
	if err != nil {
		slog.Error("Failed to prepare transfer", "transferId", m.TransferID, "error", err)
		refuse("failed to prepare transfer")
		return
	}

	l.session = session
	l.lastError = ""
	l.transferDeadline.arm(l.cfg.Transfer.TransferTimeout, func(gen uint64) {
		l.post(transferTimeoutEvent{gen: gen})
	})
	pc.send(&protocol.FileStartAck{
		Type:       protocol.TypeFileStartAck,
		TransferID: m.TransferID,
		Accepted:   true,
	})

	slog.Info("Started receiving file",
		"transferId", session.TransferID,
		"fileName", session.FileName,
		"fileSize", session.FileSize,
		"totalChunks", session.TotalChunks,
		"chunkSize", session.ChunkSize)
	l.setStatus(transfer.StatusReceivingFile)
	l.publish()
}

// Binary chunks are not acknowledged; rejections are only logged.
func (l *eventLoop) onBinaryChunk(c *protocol.BinaryChunk) {
	if err := l.ingest(c.TransferID, c.ChunkIndex, c.Data); err != nil {
		slog.Warn("Dropping binary chunk", "transferId", c.TransferID, "chunkIndex", c.ChunkIndex, "error", err)
		l.failOnFatal(err)
	}
}

func (l *eventLoop) onFileChunk(pc *peerConn, m *protocol.FileChunk) {
	err := l.ingest(m.TransferID, m.ChunkIndex, m.Payload)

	ack := &protocol.FileChunkAck{
		Type:       protocol.TypeFileChunkAck,
		TransferID: m.TransferID,
		ChunkIndex: m.ChunkIndex,
		Success:    err == nil,
	}
	if err != nil {
		slog.Warn("Rejecting file chunk", "transferId", m.TransferID, "chunkIndex", m.ChunkIndex, "error", err)
		ack.Error = err.Error()
	}
	pc.send(ack)

	l.failOnFatal(err)
}

// ingest writes one chunk into the active session. Errors that are not
// *transfer.TransferError leave the session untouched.
func (l *eventLoop) ingest(transferID string, index uint32, data []byte) error {
	if l.session == nil || l.status != transfer.StatusReceivingFile {
		return errNoActiveTransfer
	}
	if transferID != l.session.TransferID {
		return errTransferMismatch
	}
	if l.finalizing != nil {
		return errFinalizing
	}

	duplicate, err := l.session.WriteChunk(index, data)
	if err != nil {
		return err
	}
	if duplicate {
		slog.Debug("Ignoring duplicate chunk", "transferId", transferID, "chunkIndex", index)
		return nil
	}

	l.requestProgress()
	return nil
}

func (l *eventLoop) failOnFatal(err error) {
	var te *transfer.TransferError
	if errors.As(err, &te) {
		l.abortTransfer(err, true)
	}
}

func (l *eventLoop) onFileEnd(pc *peerConn, m *protocol.FileEnd) {
	if l.session == nil || l.status != transfer.StatusReceivingFile || m.TransferID != l.session.TransferID {
		reason := errNoActiveTransfer
		if l.session != nil {
			reason = errTransferMismatch
		}
		slog.Warn("Rejecting file_end", "transferId", m.TransferID, "reason", reason)
		pc.send(&protocol.FileComplete{
			Type:       protocol.TypeFileComplete,
			TransferID: m.TransferID,
			Error:      reason.Error(),
			ErrorCode:  string(transfer.CodeInvalidTransfer),
		})
		return
	}

	if l.finalizing != nil {
		slog.Debug("Ignoring repeated file_end while finalizing", "transferId", m.TransferID)
		return
	}

	session := l.session
	progress := session.Progress(l.srv.now())
	l.finalizing = &progress
	l.transferDeadline.stop()

	finalize := l.srv.finalize
	destDir := l.cfg.DestinationDir
	l.srv.goBackground(func() {
		path, err := finalize(session, destDir)
		if err != nil {
			if derr := session.Discard(); derr != nil {
				slog.Warn("Failed to clean up transfer", "transferId", session.TransferID, "error", derr)
			}
		}
		if !l.post(finalizeEvent{session: session, path: path, err: err}) {
			slog.Info("Receiver stopped before transfer was finalized", "transferId", session.TransferID, "error", err)
		}
	})
}

// finalizeSession checks the received file and moves it into destDir. It
// runs off the event loop.
func finalizeSession(session *transfer.Session, destDir string) (string, error) {
	if _, err := session.Verify(); err != nil {
		return "", err
	}
	return session.Commit(destDir)
}

func (l *eventLoop) onFinalized(ev finalizeEvent) {
	if ev.session != l.session {
		// The peer went away or the server moved on while the file was
		// being finalized.
		if ev.err == nil {
			slog.Info("File stored after its transfer was abandoned",
				"transferId", ev.session.TransferID, "filePath", ev.path)
		}
		return
	}
	if ev.err != nil {
		// The finalizer already discarded the temp file.
		l.abortTransfer(ev.err, true)
		return
	}

	session := l.session
	l.session = nil
	l.finalizing = nil
	completion := session.Completion(ev.path)
	l.lastCompletion = &completion
	if l.peer != nil {
		l.peer.send(&protocol.FileComplete{
			Type:       protocol.TypeFileComplete,
			TransferID: completion.TransferID,
			Success:    true,
			FilePath:   ev.path,
		})
	}

	slog.Info("File received successfully",
		"transferId", completion.TransferID,
		"filePath", ev.path,
		"size", completion.Size,
		"duration", completion.Duration)
	l.setStatus(transfer.StatusConnected)
	l.publish()

	onComplete := l.srv.onComplete
	l.srv.goBackground(func() {
		checkContentType(completion)
		if onComplete != nil {
			onComplete(completion)
		}
	})
}

// checkContentType compares the stored bytes with the declared type. A
// mismatch is worth a warning, not a failure.
func checkContentType(c transfer.Completion) {
	detected, err := mimetype.DetectFile(c.FilePath)
	if err != nil {
		slog.Warn("Failed to detect content type", "filePath", c.FilePath, "error", err)
		return
	}
	for m := detected; m != nil; m = m.Parent() {
		if m.Is(c.MimeType) {
			return
		}
	}
	slog.Warn("Received content does not match declared type",
		"filePath", c.FilePath, "declared", c.MimeType, "detected", detected.String())
}

func (l *eventLoop) onFileCancel(m *protocol.FileCancel) {
	if l.session == nil || m.TransferID != l.session.TransferID {
		slog.Debug("Ignoring file_cancel for inactive transfer", "transferId", m.TransferID)
		return
	}
	if l.finalizing != nil {
		slog.Debug("Ignoring file_cancel while finalizing", "transferId", m.TransferID)
		return
	}

	reason := m.Reason
	if reason == "" {
		reason = "cancelled by sender"
	}
	l.abortTransfer(fmt.Errorf("%w: %s", transfer.ErrTransferCancelled, reason), true)
}

func (l *eventLoop) onTransferTimeout() {
	if l.session == nil {
		return
	}
	slog.Warn("Transfer timed out", "transferId", l.session.TransferID, "timeout", l.cfg.Transfer.TransferTimeout)
	l.abortTransfer(fmt.Errorf("%w after %s", transfer.ErrTransferTimeout, l.cfg.Transfer.TransferTimeout), true)
}

func (l *eventLoop) onHandshakeTimeout() {
	if l.status != transfer.StatusHandshaking || l.peer == nil {
		return
	}
	pc := l.peer
	slog.Warn("Handshake timed out", "remote", pc.remote, "timeout", l.cfg.Transfer.HandshakeTimeout)
	pc.sendThenClose(&protocol.HandshakeAck{
		Type:    protocol.TypeHandshakeAck,
		Message: "handshake timed out",
	})
	l.peer = nil
	l.dropPeer(errors.New("handshake timed out"))
	l.publish()
}

// abortTransfer is the single failure path for the active session. The
// session reference is cleared before any cleanup so a second trigger finds
// nothing to do. File cleanup runs off the loop.
func (l *eventLoop) abortTransfer(cause error, notifyPeer bool) {
	session := l.session
	if session == nil {
		return
	}
	l.session = nil
	l.transferDeadline.stop()
	finalizing := l.finalizing != nil
	l.finalizing = nil

	code := transfer.CodeOf(cause)
	message := cause.Error()
	var te *transfer.TransferError
	if errors.As(cause, &te) {
		message = te.Err.Error()
	}
	l.lastError = message

	slog.Warn("Transfer failed",
		"transferId", session.TransferID,
		"fileName", session.FileName,
		"errorCode", code,
		"error", message)

	if notifyPeer && l.peer != nil {
		l.peer.send(&protocol.FileComplete{
			Type:       protocol.TypeFileComplete,
			TransferID: session.TransferID,
			Error:      message,
			ErrorCode:  string(code),
		})
	}

	// A finalizing session belongs to its finalizer, which cleans up after
	// itself on failure.
	if !finalizing {
		session.Fail()
		l.srv.goBackground(func() {
			if err := session.Discard(); err != nil {
				slog.Warn("Failed to clean up transfer", "transferId", session.TransferID, "error", err)
			}
		})
	}

	if l.status == transfer.StatusReceivingFile {
		l.setStatus(transfer.StatusConnected)
	}
	l.publish()
}
