package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Version is the protocol version a peer must present in its handshake.
const Version = "1"

type MessageType string

const (
	TypeHandshake    MessageType = "handshake"
	TypeHandshakeAck MessageType = "handshake_ack"
	TypePing         MessageType = "ping"
	TypePong         MessageType = "pong"
	TypeFileStart    MessageType = "file_start"
	TypeFileStartAck MessageType = "file_start_ack"
	TypeFileChunk    MessageType = "file_chunk"
	TypeFileChunkAck MessageType = "file_chunk_ack"
	TypeFileEnd      MessageType = "file_end"
	TypeFileComplete MessageType = "file_complete"
	TypeFileCancel   MessageType = "file_cancel"
)

// Message is implemented by every control message shape.
type Message interface {
	MessageType() MessageType
}

// ClientInfo identifies the paired peer. It is replaced wholesale on every
// accepted handshake and never patched.
type ClientInfo struct {
	DeviceName      string  `json:"deviceName"`
	Platform        string  `json:"platform"`
	ProtocolVersion string  `json:"protocolVersion"`
	AppVersion      *string `json:"appVersion,omitempty"`
}

// --- Peer to receiver ---

type Handshake struct {
	Type       MessageType `json:"type"`
	Version    string      `json:"version"`
	Platform   string      `json:"platform"`
	DeviceName string      `json:"deviceName"`
	AppVersion *string     `json:"appVersion,omitempty"`
}

func (*Handshake) MessageType() MessageType { return TypeHandshake }

// ClientInfo projects the handshake into the peer identity.
func (h *Handshake) ClientInfo() ClientInfo {
	info := ClientInfo{
		DeviceName:      h.DeviceName,
		Platform:        h.Platform,
		ProtocolVersion: h.Version,
	}
	if h.AppVersion != nil {
		v := *h.AppVersion
		info.AppVersion = &v
	}
	return info
}

type Ping struct {
	Type    MessageType `json:"type"`
	Payload *string     `json:"payload,omitempty"`
}

func (*Ping) MessageType() MessageType { return TypePing }

type FileStart struct {
	Type        MessageType `json:"type"`
	TransferID  string      `json:"transferId"`
	FileName    string      `json:"fileName"`
	FileSize    uint64      `json:"fileSize"`
	MimeType    string      `json:"mimeType"`
	Checksum    string      `json:"checksum"`
	TotalChunks uint32      `json:"totalChunks"`
	ChunkSize   uint32      `json:"chunkSize"`
}

func (*FileStart) MessageType() MessageType { return TypeFileStart }

// FileChunk carries chunk bytes base64-encoded in Data. Payload holds the
// decoded bytes once the message has been validated.
type FileChunk struct {
	Type       MessageType `json:"type"`
	TransferID string      `json:"transferId"`
	ChunkIndex uint32      `json:"chunkIndex"`
	Data       string      `json:"data"`

	Payload []byte `json:"-"`
}

func (*FileChunk) MessageType() MessageType { return TypeFileChunk }

// NewFileChunk builds the JSON variant of a chunk message.
func NewFileChunk(transferID string, chunkIndex uint32, data []byte) *FileChunk {
	return &FileChunk{
		Type:       TypeFileChunk,
		TransferID: transferID,
		ChunkIndex: chunkIndex,
		Data:       base64.StdEncoding.EncodeToString(data),
		Payload:    data,
	}
}

type FileEnd struct {
	Type       MessageType `json:"type"`
	TransferID string      `json:"transferId"`
}

func (*FileEnd) MessageType() MessageType { return TypeFileEnd }

type FileCancel struct {
	Type       MessageType `json:"type"`
	TransferID string      `json:"transferId"`
	Reason     string      `json:"reason,omitempty"`
}

func (*FileCancel) MessageType() MessageType { return TypeFileCancel }

// --- Receiver to peer ---

type HandshakeAck struct {
	Type     MessageType `json:"type"`
	Accepted bool        `json:"accepted"`
	Message  string      `json:"message,omitempty"`
}

func (*HandshakeAck) MessageType() MessageType { return TypeHandshakeAck }

type Pong struct {
	Type     MessageType `json:"type"`
	Received bool        `json:"received"`
	Payload  *string     `json:"payload,omitempty"`
}

func (*Pong) MessageType() MessageType { return TypePong }

type FileStartAck struct {
	Type       MessageType `json:"type"`
	TransferID string      `json:"transferId"`
	Accepted   bool        `json:"accepted"`
	Message    string      `json:"message,omitempty"`
}

func (*FileStartAck) MessageType() MessageType { return TypeFileStartAck }

type FileChunkAck struct {
	Type       MessageType `json:"type"`
	TransferID string      `json:"transferId"`
	ChunkIndex uint32      `json:"chunkIndex"`
	Success    bool        `json:"success"`
	Error      string      `json:"error,omitempty"`
}

func (*FileChunkAck) MessageType() MessageType { return TypeFileChunkAck }

type FileComplete struct {
	Type       MessageType `json:"type"`
	TransferID string      `json:"transferId"`
	Success    bool        `json:"success"`
	FilePath   string      `json:"filePath,omitempty"`
	Error      string      `json:"error,omitempty"`
	ErrorCode  string      `json:"errorCode,omitempty"`
}

func (*FileComplete) MessageType() MessageType { return TypeFileComplete }

// EncodeMessage marshals msg and appends the message terminator.
func EncodeMessage(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s message: %w", msg.MessageType(), err)
	}
	return append(data, MessageTerminator...), nil
}

// DecodeReply decodes a message sent by the receiver. It is used on the
// sending side, where the peer is trusted to speak the protocol.
func DecodeReply(text []byte) (Message, error) {
	var head struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(text, &head); err != nil {
		return nil, fmt.Errorf("failed to decode reply: %w", err)
	}

	var msg Message
	switch head.Type {
	case TypeHandshakeAck:
		msg = &HandshakeAck{}
	case TypePong:
		msg = &Pong{}
	case TypeFileStartAck:
		msg = &FileStartAck{}
	case TypeFileChunkAck:
		msg = &FileChunkAck{}
	case TypeFileComplete:
		msg = &FileComplete{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, head.Type)
	}

	if err := json.Unmarshal(text, msg); err != nil {
		return nil, fmt.Errorf("failed to decode %s reply: %w", head.Type, err)
	}
	return msg, nil
}
