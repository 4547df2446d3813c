// Package cache stores scalar and byte payloads under generated keys. Every
// Store call is counted and recorded under StoreIdentity.
package cache

import (
	"context"

	"github.com/google/uuid"
	platformerrors "github.com/jmgilman/go/errors"

	"kvcache/internal/instrument"
	"kvcache/internal/kv"
	"kvcache/internal/obs"
)

const StoreIdentity = "Cache.store"

type Cache struct {
	store   kv.Store
	storeOp instrument.Func[any, string]
}

// New builds a Cache over store. The caller owns the store's lifecycle.
func New(store kv.Store) *Cache {
	c := &Cache{store: store}
	c.storeOp = instrument.CountCalls[any, string](store, StoreIdentity,
		rejectUnsupported(instrument.RecordHistory[any, string](store, StoreIdentity, c.put)))
	return c
}

// rejectUnsupported fails before fn runs when data has no stored form, so a
// rejected call is counted but leaves no history.
func rejectUnsupported(fn instrument.Func[any, string]) instrument.Func[any, string] {
	return func(ctx context.Context, data any) (string, error) {
		if _, err := EncodeData(data); err != nil {
			return "", err
		}
		return fn(ctx, data)
	}
}

// Store writes data under a fresh UUIDv4 key and returns the key. data must be
// a string, []byte, integer or float.
func (c *Cache) Store(ctx context.Context, data any) (string, error) {
	return c.storeOp(ctx, data)
}

func (c *Cache) put(ctx context.Context, data any) (string, error) {
	value, err := EncodeData(data)
	if err != nil {
		return "", err
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return "", platformerrors.Wrap(err, platformerrors.CodeInternal, "generate key")
	}
	key := id.String()
	if err := c.store.Set(ctx, key, value); err != nil {
		return "", err
	}
	return key, nil
}

// Retrieve returns the raw stored bytes. ok is false when key is absent.
func (c *Cache) Retrieve(ctx context.Context, key string) ([]byte, bool, error) {
	return RetrieveAs(ctx, c, key, DecodeRaw)
}

func (c *Cache) RetrieveText(ctx context.Context, key string) (string, bool, error) {
	return RetrieveAs(ctx, c, key, DecodeText)
}

func (c *Cache) RetrieveInt(ctx context.Context, key string) (int64, bool, error) {
	return RetrieveAs(ctx, c, key, DecodeInt)
}

func (c *Cache) RetrieveFloat(ctx context.Context, key string) (float64, bool, error) {
	return RetrieveAs(ctx, c, key, DecodeFloat)
}

// RetrieveAs reads key and applies decode. Decode failures are returned to
// the caller with the decoder's error kept in the chain.
func RetrieveAs[T any](ctx context.Context, c *Cache, key string, decode func([]byte) (T, error)) (T, bool, error) {
	var zero T
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		obs.DefaultMetrics().RecordRetrieve("store_error")
		return zero, false, err
	}
	if !ok {
		obs.DefaultMetrics().RecordRetrieve("miss")
		return zero, false, nil
	}
	if decode == nil {
		obs.DefaultMetrics().RecordRetrieve("decode_error")
		return zero, true, platformerrors.New(platformerrors.CodeInvalidInput, "decode function is nil")
	}
	value, err := decode(raw)
	if err != nil {
		obs.DefaultMetrics().RecordRetrieve("decode_error")
		return zero, true, platformerrors.WrapWithContext(err, platformerrors.CodeInvalidInput, "decode stored value", map[string]interface{}{
			"key": key,
		})
	}
	obs.DefaultMetrics().RecordRetrieve("hit")
	return value, true, nil
}

// Calls returns how many times Store has been invoked since the last flush.
func (c *Cache) Calls(ctx context.Context) (int64, error) {
	return instrument.Calls(ctx, c.store, StoreIdentity)
}

func (c *Cache) Flush(ctx context.Context) error {
	return c.store.FlushDB(ctx)
}
