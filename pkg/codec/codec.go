// Package codec converts published messages to and from the bytes carried in
// MSG frames. Implementations must be safe for concurrent use.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrUnsupportedMessage is returned when a codec cannot encode the given value
var ErrUnsupportedMessage = errors.New("unsupported message type")

// Codec encodes and decodes message payloads.
type Codec interface {
	// Name identifies the codec in logs and configuration.
	Name() string

	Encode(message any) ([]byte, error)

	Decode(data []byte) (any, error)
}

// JSON is the default codec. Decoded values are the generic JSON shapes
// (map[string]any, []any, float64, string, bool, nil).
type JSON struct{}

func (JSON) Name() string { return "json" }

func (JSON) Encode(message any) ([]byte, error) {
	data, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("json encode: %w", err)
	}
	return data, nil
}

func (JSON) Decode(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("json decode: %w", err)
	}
	return v, nil
}

// ProtoJSON carries protobuf messages in their canonical JSON form. New
// returns the empty message used for decoding; when nil, payloads decode
// into a *structpb.Struct.
type ProtoJSON struct {
	New func() proto.Message
}

func (ProtoJSON) Name() string { return "protojson" }

// Encode accepts a proto.Message or a map[string]any, the latter being
// converted to a structpb.Struct first.
func (c ProtoJSON) Encode(message any) ([]byte, error) {
	var m proto.Message
	switch v := message.(type) {
	case proto.Message:
		m = v
	case map[string]any:
		s, err := structpb.NewStruct(v)
		if err != nil {
			return nil, fmt.Errorf("protojson encode: %w", err)
		}
		m = s
	default:
		return nil, fmt.Errorf("protojson encode %T: %w", message, ErrUnsupportedMessage)
	}

	data, err := protojson.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protojson encode: %w", err)
	}
	return data, nil
}

func (c ProtoJSON) Decode(data []byte) (any, error) {
	var m proto.Message
	if c.New != nil {
		m = c.New()
	} else {
		m = &structpb.Struct{}
	}
	if err := protojson.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("protojson decode: %w", err)
	}
	return m, nil
}

// ByName returns the codec registered under name.
func ByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON{}, nil
	case "protojson":
		return ProtoJSON{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}
