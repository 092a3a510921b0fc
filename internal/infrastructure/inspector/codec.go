package inspector

import (
	"encoding/json"

	"github.com/tapwire/tapwire/internal/domain/model"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes feed messages. The payload and the envelope are encoded
// with the same codec.
type Codec interface {
	Name() model.FeedEncoding
	// Binary reports whether frames must be sent as binary messages
	Binary() bool
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// CodecFor returns the codec for an encoding name
func CodecFor(encoding model.FeedEncoding) (Codec, error) {
	switch encoding {
	case "", model.FeedEncodingJSON:
		return jsonCodec{}, nil
	case model.FeedEncodingMsgpack:
		return msgpackCodec{}, nil
	default:
		return nil, model.NewProxyError("unknown feed encoding %q", encoding)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() model.FeedEncoding { return model.FeedEncodingJSON }
func (jsonCodec) Binary() bool             { return false }

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

type msgpackCodec struct{}

func (msgpackCodec) Name() model.FeedEncoding { return model.FeedEncodingMsgpack }
func (msgpackCodec) Binary() bool             { return true }

func (msgpackCodec) Marshal(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (msgpackCodec) Unmarshal(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}

// EncodeMessage wraps payload in an envelope of msgType and encodes both
func EncodeMessage(codec Codec, msgType model.MessageType, payload interface{}) ([]byte, error) {
	body, err := codec.Marshal(payload)
	if err != nil {
		return nil, model.WrapError(err, "encode %s payload", msgType)
	}
	data, err := codec.Marshal(model.NewMessage(msgType, body))
	if err != nil {
		return nil, model.WrapError(err, "encode %s message", msgType)
	}
	return data, nil
}

// DecodeMessage decodes an envelope
func DecodeMessage(codec Codec, data []byte) (*model.Message, error) {
	var msg model.Message
	if err := codec.Unmarshal(data, &msg); err != nil {
		return nil, model.WrapError(err, "decode %s message", codec.Name())
	}
	return &msg, nil
}

// DecodePayload decodes the payload of msg into v
func DecodePayload(codec Codec, msg *model.Message, v interface{}) error {
	if err := codec.Unmarshal(msg.Payload, v); err != nil {
		return model.WrapError(err, "decode %s payload", msg.Type)
	}
	return nil
}
