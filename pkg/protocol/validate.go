package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

var (
	ErrMalformedJSON      = errors.New("malformed json message")
	ErrUnknownMessageType = errors.New("unknown message type")
)

// ValidationError reports a message whose shape does not match its type.
type ValidationError struct {
	Type   MessageType
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("invalid message: field %q %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s message: field %q %s", e.Type, e.Field, e.Reason)
}

// ParseMessage decodes one JSON control message and narrows it into a typed
// Message. Anything that is not an object of a known, well-formed shape is
// returned as an error; it never panics on input.
func ParseMessage(text []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(text))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: top-level value is not an object", ErrMalformedJSON)
	}
	return Validate(obj)
}

// Validate narrows an untyped JSON object into one of the inbound message kinds.
func Validate(raw map[string]any) (Message, error) {
	v := &validator{raw: raw}
	typ := MessageType(v.str("type"))
	if v.err != nil {
		return nil, v.err
	}
	v.typ = typ

	switch typ {
	case TypeHandshake:
		return validateHandshake(v)
	case TypePing:
		return validatePing(v)
	case TypeFileStart:
		return validateFileStart(v)
	case TypeFileChunk:
		return validateFileChunk(v)
	case TypeFileEnd:
		return validateFileEnd(v)
	case TypeFileCancel:
		return validateFileCancel(v)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, typ)
	}
}

func validateHandshake(v *validator) (Message, error) {
	msg := &Handshake{
		Type:       TypeHandshake,
		Version:    v.str("version"),
		Platform:   v.str("platform"),
		DeviceName: v.str("deviceName"),
		AppVersion: v.optStr("appVersion"),
	}
	return msg, v.err
}

func validatePing(v *validator) (Message, error) {
	msg := &Ping{Type: TypePing, Payload: v.optStr("payload")}
	return msg, v.err
}

func validateFileStart(v *validator) (Message, error) {
	msg := &FileStart{
		Type:        TypeFileStart,
		TransferID:  v.nonEmpty("transferId"),
		FileName:    v.nonEmpty("fileName"),
		FileSize:    v.uint("fileSize", math.MaxUint64),
		MimeType:    v.str("mimeType"),
		Checksum:    v.str("checksum"),
		TotalChunks: uint32(v.uint("totalChunks", math.MaxUint32)),
		ChunkSize:   uint32(v.uint("chunkSize", math.MaxUint32)),
	}
	return msg, v.err
}

func validateFileChunk(v *validator) (Message, error) {
	msg := &FileChunk{
		Type:       TypeFileChunk,
		TransferID: v.nonEmpty("transferId"),
		ChunkIndex: uint32(v.uint("chunkIndex", math.MaxUint32)),
		Data:       v.str("data"),
	}
	if v.err != nil {
		return nil, v.err
	}

	payload, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		return nil, &ValidationError{Type: TypeFileChunk, Field: "data", Reason: "is not valid base64"}
	}
	msg.Payload = payload
	return msg, nil
}

func validateFileEnd(v *validator) (Message, error) {
	msg := &FileEnd{Type: TypeFileEnd, TransferID: v.nonEmpty("transferId")}
	return msg, v.err
}

func validateFileCancel(v *validator) (Message, error) {
	msg := &FileCancel{Type: TypeFileCancel, TransferID: v.nonEmpty("transferId")}
	if reason := v.optStr("reason"); reason != nil {
		msg.Reason = *reason
	}
	return msg, v.err
}

// validator records the first field error; later lookups become no-ops.
type validator struct {
	raw map[string]any
	typ MessageType
	err error
}

func (v *validator) fail(field, reason string) {
	if v.err == nil {
		v.err = &ValidationError{Type: v.typ, Field: field, Reason: reason}
	}
}

func (v *validator) str(field string) string {
	if v.err != nil {
		return ""
	}
	val, ok := v.raw[field]
	if !ok || val == nil {
		v.fail(field, "is required")
		return ""
	}
	s, ok := val.(string)
	if !ok {
		v.fail(field, "must be a string")
		return ""
	}
	return s
}

func (v *validator) nonEmpty(field string) string {
	s := v.str(field)
	if v.err == nil && s == "" {
		v.fail(field, "must not be empty")
	}
	return s
}

func (v *validator) optStr(field string) *string {
	if v.err != nil {
		return nil
	}
	val, ok := v.raw[field]
	if !ok || val == nil {
		return nil
	}
	s, ok := val.(string)
	if !ok {
		v.fail(field, "must be a string")
		return nil
	}
	return &s
}

func (v *validator) uint(field string, max uint64) uint64 {
	if v.err != nil {
		return 0
	}
	val, ok := v.raw[field]
	if !ok || val == nil {
		v.fail(field, "is required")
		return 0
	}

	var n uint64
	var err error
	switch num := val.(type) {
	case json.Number:
		n, err = strconv.ParseUint(num.String(), 10, 64)
	case float64:
		// Values built by hand rather than decoded with UseNumber.
		if num < 0 || num != math.Trunc(num) || num > float64(math.MaxUint64) {
			err = strconv.ErrRange
		}
		n = uint64(num)
	default:
		v.fail(field, "must be a number")
		return 0
	}

	if err != nil {
		v.fail(field, "must be a non-negative integer")
		return 0
	}
	if n > max {
		v.fail(field, "is out of range")
		return 0
	}
	return n
}
