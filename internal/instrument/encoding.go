package instrument

import (
	"encoding/json"

	platformerrors "github.com/jmgilman/go/errors"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Recorded values are stored as protojson google.protobuf.Any messages wrapping
// a well-known wrapper type, so history can be read back without evaluating
// anything. An argument tuple is a JSON array of such messages.

// EncodeValue encodes a single scalar.
func EncodeValue(value any) ([]byte, error) {
	msg, err := ToMessage(value)
	if err != nil {
		return nil, err
	}
	packed, err := anypb.New(msg)
	if err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeInternal, "pack value")
	}
	data, err := protojson.Marshal(packed)
	if err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeInternal, "marshal value")
	}
	return data, nil
}

func DecodeValue(data []byte) (any, error) {
	packed := &anypb.Any{}
	if err := protojson.Unmarshal(data, packed); err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeInvalidInput, "unmarshal recorded value")
	}
	msg, err := packed.UnmarshalNew()
	if err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeInvalidInput, "unpack recorded value")
	}
	return FromMessage(msg)
}

// EncodeArgs encodes an argument tuple.
func EncodeArgs(args ...any) ([]byte, error) {
	encoded := make([]json.RawMessage, 0, len(args))
	for i, arg := range args {
		data, err := EncodeValue(arg)
		if err != nil {
			return nil, platformerrors.WithContext(err, "arg_index", i)
		}
		encoded = append(encoded, data)
	}
	data, err := json.Marshal(encoded)
	if err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeInternal, "marshal args")
	}
	return data, nil
}

func DecodeArgs(data []byte) ([]any, error) {
	var encoded []json.RawMessage
	if err := json.Unmarshal(data, &encoded); err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeInvalidInput, "unmarshal recorded args")
	}
	args := make([]any, 0, len(encoded))
	for i, raw := range encoded {
		value, err := DecodeValue(raw)
		if err != nil {
			return nil, platformerrors.WithContext(err, "arg_index", i)
		}
		args = append(args, value)
	}
	return args, nil
}

// ToMessage maps a supported scalar onto its protobuf wrapper.
func ToMessage(value any) (proto.Message, error) {
	switch v := value.(type) {
	case string:
		return wrapperspb.String(v), nil
	case []byte:
		return wrapperspb.Bytes(v), nil
	case bool:
		return wrapperspb.Bool(v), nil
	case int:
		return wrapperspb.Int64(int64(v)), nil
	case int8:
		return wrapperspb.Int64(int64(v)), nil
	case int16:
		return wrapperspb.Int64(int64(v)), nil
	case int32:
		return wrapperspb.Int64(int64(v)), nil
	case int64:
		return wrapperspb.Int64(v), nil
	case uint:
		return wrapperspb.UInt64(uint64(v)), nil
	case uint8:
		return wrapperspb.UInt64(uint64(v)), nil
	case uint16:
		return wrapperspb.UInt64(uint64(v)), nil
	case uint32:
		return wrapperspb.UInt64(uint64(v)), nil
	case uint64:
		return wrapperspb.UInt64(v), nil
	case float32:
		return wrapperspb.Double(float64(v)), nil
	case float64:
		return wrapperspb.Double(v), nil
	default:
		return nil, platformerrors.Newf(platformerrors.CodeInvalidInput, "unsupported value type %T", value)
	}
}

// FromMessage is the inverse of ToMessage. Integers come back as int64 or
// uint64 and floats as float64.
func FromMessage(msg proto.Message) (any, error) {
	switch v := msg.(type) {
	case *wrapperspb.StringValue:
		return v.GetValue(), nil
	case *wrapperspb.BytesValue:
		return v.GetValue(), nil
	case *wrapperspb.BoolValue:
		return v.GetValue(), nil
	case *wrapperspb.Int64Value:
		return v.GetValue(), nil
	case *wrapperspb.Int32Value:
		return int64(v.GetValue()), nil
	case *wrapperspb.UInt64Value:
		return v.GetValue(), nil
	case *wrapperspb.UInt32Value:
		return uint64(v.GetValue()), nil
	case *wrapperspb.DoubleValue:
		return v.GetValue(), nil
	case *wrapperspb.FloatValue:
		return float64(v.GetValue()), nil
	default:
		return nil, platformerrors.Newf(platformerrors.CodeInvalidInput, "unsupported recorded type %s", msg.ProtoReflect().Descriptor().FullName())
	}
}
