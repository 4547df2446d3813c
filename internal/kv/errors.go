package kv

import (
	platformerrors "github.com/jmgilman/go/errors"
)

var (
	ErrWrongType      = platformerrors.New(platformerrors.CodeConflict, "operation against a key holding the wrong kind of value")
	ErrNotInteger     = platformerrors.New(platformerrors.CodeInvalidInput, "value is not an integer or out of range")
	ErrObjectTooLarge = platformerrors.New(platformerrors.CodeInvalidInput, "value exceeds max object bytes")
	ErrClosed         = platformerrors.New(platformerrors.CodeUnavailable, "store is closed")
	ErrInvalidTTL     = platformerrors.New(platformerrors.CodeInvalidInput, "ttl must be positive")
)

func wrapStoreError(err error, op string, key string) error {
	if err == nil {
		return nil
	}
	return platformerrors.WrapWithContext(err, platformerrors.CodeDatabase, op+" failed", map[string]interface{}{
		"key": key,
	})
}
