package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	// FrameSeparator terminates every frame on the stream (ASCII FS).
	FrameSeparator = "\x1c"
	// FieldSeparator splits the topic from the payload of a MSG frame (ASCII GS).
	FieldSeparator = "\x1d"

	frameSeparatorByte = 0x1c
)

// Tag identifies the type of a frame. It is always the first byte.
type Tag byte

const (
	TagIdentify    Tag = 'I'
	TagReject      Tag = 'R'
	TagClose       Tag = 'C'
	TagSubscribe   Tag = 'S'
	TagUnsubscribe Tag = 'U'
	TagMsg         Tag = 'M'
	TagError       Tag = 'E'
)

func (t Tag) String() string {
	switch t {
	case TagIdentify:
		return "identify"
	case TagReject:
		return "reject"
	case TagClose:
		return "close"
	case TagSubscribe:
		return "subscribe"
	case TagUnsubscribe:
		return "unsubscribe"
	case TagMsg:
		return "msg"
	case TagError:
		return "error"
	default:
		return "unknown"
	}
}

// Reason codes carried by REJECT frames.
const (
	ReasonInvalidSecurityToken = "INVALID_SECURITY_TOKEN"
	ReasonDuplicateConnection  = "DUPLICATE_CONNECTION"
	ReasonMessageParseError    = "MESSAGE_PARSE_ERROR"
	ReasonInvalidMessage       = "INVALID_MESSAGE"
)

// MinFrameLength is the shortest frame accepted during the handshake.
const MinFrameLength = 2

// CloseFrame is the sentinel that asks the receiving side to close the link.
const CloseFrame = string(TagClose)

var (
	// ErrEmptyFrame is returned when a frame has no tag byte
	ErrEmptyFrame = errors.New("empty frame")
	// ErrMalformedIdentify is returned when an IDENTIFY payload cannot be parsed
	ErrMalformedIdentify = errors.New("malformed identify payload")
)

// Identity is the payload of an IDENTIFY frame.
type Identity struct {
	UID           string `json:"uid"`
	SecurityToken string `json:"securityToken"`
}

// IdentifyFrame builds the IDENTIFY frame announcing id.
func IdentifyFrame(id Identity) (string, error) {
	body, err := json.Marshal(id)
	if err != nil {
		return "", fmt.Errorf("failed to encode identity: %w", err)
	}
	return string(TagIdentify) + string(body), nil
}

// ParseIdentify decodes the body of an IDENTIFY frame (the frame minus its tag).
func ParseIdentify(body string) (Identity, error) {
	var id Identity
	if err := json.Unmarshal([]byte(body), &id); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrMalformedIdentify, err)
	}
	return id, nil
}

func RejectFrame(reason string) string { return string(TagReject) + reason }

func SubscribeFrame(topic string) string { return string(TagSubscribe) + topic }

func UnsubscribeFrame(topic string) string { return string(TagUnsubscribe) + topic }

func ErrorFrame(message string) string { return string(TagError) + message }

// MsgFrame builds a MSG frame from a topic and an already encoded payload.
func MsgFrame(topic string, payload []byte) string {
	var b strings.Builder
	b.Grow(2 + len(topic) + len(payload))
	b.WriteByte(byte(TagMsg))
	b.WriteString(topic)
	b.WriteString(FieldSeparator)
	b.Write(payload)
	return b.String()
}

// SplitMsg splits the body of a MSG frame at the first field separator.
func SplitMsg(body string) (topic, payload string, ok bool) {
	topic, payload, ok = strings.Cut(body, FieldSeparator)
	if !ok || topic == "" {
		return "", "", false
	}
	return topic, payload, true
}

// Split returns the tag and body of a frame.
func Split(frame string) (Tag, string, error) {
	if frame == "" {
		return 0, "", ErrEmptyFrame
	}
	return Tag(frame[0]), frame[1:], nil
}

// ValidTopic reports whether topic can be carried in a frame.
func ValidTopic(topic string) bool {
	return topic != "" && !strings.ContainsAny(topic, FrameSeparator+FieldSeparator)
}

// SplitFrames is a bufio.SplitFunc yielding one frame per separator. A
// trailing fragment without separator is held until more data arrives and
// discarded at EOF.
func SplitFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i := bytes.IndexByte(data, frameSeparatorByte); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), nil, nil
	}
	return 0, nil, nil
}
