package cache

import (
	"strconv"
	"unicode/utf8"

	platformerrors "github.com/jmgilman/go/errors"
)

var ErrInvalidUTF8 = platformerrors.New(platformerrors.CodeInvalidInput, "stored value is not valid utf-8")

// EncodeData renders data the way it is written to the store: text and blobs
// verbatim, integers in base 10, floats in their shortest decimal form.
func EncodeData(data any) ([]byte, error) {
	switch v := data.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case int:
		return strconv.AppendInt(nil, int64(v), 10), nil
	case int8:
		return strconv.AppendInt(nil, int64(v), 10), nil
	case int16:
		return strconv.AppendInt(nil, int64(v), 10), nil
	case int32:
		return strconv.AppendInt(nil, int64(v), 10), nil
	case int64:
		return strconv.AppendInt(nil, v, 10), nil
	case uint:
		return strconv.AppendUint(nil, uint64(v), 10), nil
	case uint8:
		return strconv.AppendUint(nil, uint64(v), 10), nil
	case uint16:
		return strconv.AppendUint(nil, uint64(v), 10), nil
	case uint32:
		return strconv.AppendUint(nil, uint64(v), 10), nil
	case uint64:
		return strconv.AppendUint(nil, v, 10), nil
	case float32:
		return strconv.AppendFloat(nil, float64(v), 'f', -1, 32), nil
	case float64:
		return strconv.AppendFloat(nil, v, 'f', -1, 64), nil
	default:
		return nil, platformerrors.Newf(platformerrors.CodeInvalidInput, "unsupported data type %T", data)
	}
}

func DecodeRaw(raw []byte) ([]byte, error) {
	return raw, nil
}

func DecodeText(raw []byte) (string, error) {
	if !utf8.Valid(raw) {
		return "", ErrInvalidUTF8
	}
	return string(raw), nil
}

func DecodeInt(raw []byte) (int64, error) {
	return strconv.ParseInt(string(raw), 10, 64)
}

func DecodeFloat(raw []byte) (float64, error) {
	return strconv.ParseFloat(string(raw), 64)
}
