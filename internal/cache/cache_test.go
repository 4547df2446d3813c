package cache

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/google/uuid"
	platformerrors "github.com/jmgilman/go/errors"

	"kvcache/internal/instrument"
	"kvcache/internal/kv"
	"kvcache/internal/testutil"
)

func TestStoreRetrieveRoundTrip(t *testing.T) {
	_, store := testutil.StartRedis(t)
	c := New(store)
	ctx := context.Background()

	key, err := c.Store(ctx, "hello")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, err := uuid.Parse(key); err != nil {
		t.Fatalf("expected uuid key, got %q", key)
	}
	raw, ok, err := c.Retrieve(ctx, key)
	if err != nil || !ok {
		t.Fatalf("retrieve: ok=%v err=%v", ok, err)
	}
	if string(raw) != "hello" {
		t.Fatalf("expected hello, got %q", raw)
	}
	text, _, err := c.RetrieveText(ctx, key)
	if err != nil || text != "hello" {
		t.Fatalf("expected text hello, got %q err=%v", text, err)
	}
}

func TestStoreTypedValues(t *testing.T) {
	c := New(kv.NewMemoryStore(0))
	ctx := context.Background()

	intKey, _ := c.Store(ctx, 123)
	value, ok, err := c.RetrieveInt(ctx, intKey)
	if err != nil || !ok || value != 123 {
		t.Fatalf("expected 123, got %d ok=%v err=%v", value, ok, err)
	}

	floatKey, _ := c.Store(ctx, 2.5)
	f, ok, err := c.RetrieveFloat(ctx, floatKey)
	if err != nil || !ok || f != 2.5 {
		t.Fatalf("expected 2.5, got %v ok=%v err=%v", f, ok, err)
	}

	blobKey, _ := c.Store(ctx, []byte{0x01, 0x02})
	raw, _, _ := c.Retrieve(ctx, blobKey)
	if len(raw) != 2 || raw[0] != 0x01 || raw[1] != 0x02 {
		t.Fatalf("expected blob bytes, got %v", raw)
	}

	custom, ok, err := RetrieveAs(ctx, c, intKey, func(raw []byte) (string, error) {
		return "#" + string(raw), nil
	})
	if err != nil || !ok || custom != "#123" {
		t.Fatalf("expected custom decode #123, got %q", custom)
	}
}

func TestStoreGeneratesDistinctKeys(t *testing.T) {
	c := New(kv.NewMemoryStore(0))
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		key, err := c.Store(ctx, "same")
		if err != nil {
			t.Fatalf("store: %v", err)
		}
		if seen[key] {
			t.Fatalf("duplicate key %s", key)
		}
		seen[key] = true
	}
}

func TestStoreCountsAndRecordsCalls(t *testing.T) {
	_, store := testutil.StartRedis(t)
	c := New(store)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := c.Store(ctx, "v"+strconv.Itoa(i)); err != nil {
			t.Fatalf("store: %v", err)
		}
	}
	calls, err := c.Calls(ctx)
	if err != nil {
		t.Fatalf("calls: %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected 4 calls, got %d", calls)
	}
	history, err := instrument.ReadHistory(ctx, store, StoreIdentity)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history.Inputs) != 4 || len(history.Outputs) != 4 {
		t.Fatalf("expected 4 recorded pairs, got %d/%d", len(history.Inputs), len(history.Outputs))
	}
	key, _ := instrument.DecodeValue(history.Outputs[3])
	if _, ok, _ := c.Retrieve(ctx, key.(string)); !ok {
		t.Fatalf("expected recorded output to be the stored key")
	}
}

func TestRetrieveIsNotCounted(t *testing.T) {
	c := New(kv.NewMemoryStore(0))
	ctx := context.Background()

	key, _ := c.Store(ctx, "x")
	for i := 0; i < 3; i++ {
		_, _, _ = c.Retrieve(ctx, key)
	}
	calls, _ := c.Calls(ctx)
	if calls != 1 {
		t.Fatalf("expected only Store to be counted, got %d", calls)
	}
}

func TestRetrieveMissingKey(t *testing.T) {
	c := New(kv.NewMemoryStore(0))
	value, ok, err := c.RetrieveInt(context.Background(), "no-such-key")
	if err != nil {
		t.Fatalf("expected no error for missing key, got %v", err)
	}
	if ok || value != 0 {
		t.Fatalf("expected not found, got %d ok=%v", value, ok)
	}
}

func TestRetrieveDecodeFailure(t *testing.T) {
	c := New(kv.NewMemoryStore(0))
	ctx := context.Background()

	key, _ := c.Store(ctx, "not a number")
	_, ok, err := c.RetrieveInt(ctx, key)
	if !ok {
		t.Fatalf("expected key to be found")
	}
	if platformerrors.GetCode(err) != platformerrors.CodeInvalidInput {
		t.Fatalf("expected invalid input, got %v", err)
	}
	var numErr *strconv.NumError
	if !errors.As(err, &numErr) {
		t.Fatalf("expected strconv error in chain, got %v", err)
	}

	blobKey, _ := c.Store(ctx, []byte{0xff, 0xfe})
	if _, _, err := c.RetrieveText(ctx, blobKey); !errors.Is(err, ErrInvalidUTF8) {
		t.Fatalf("expected ErrInvalidUTF8, got %v", err)
	}
}

func TestStoreRejectsUnsupportedType(t *testing.T) {
	store := kv.NewMemoryStore(0)
	c := New(store)
	ctx := context.Background()

	if _, err := c.Store(ctx, true); platformerrors.GetCode(err) != platformerrors.CodeInvalidInput {
		t.Fatalf("expected invalid input for bool, got %v", err)
	}
	calls, _ := c.Calls(ctx)
	if calls != 1 {
		t.Fatalf("expected rejected call to be counted, got %d", calls)
	}
	history, _ := instrument.ReadHistory(ctx, store, StoreIdentity)
	if len(history.Inputs) != 0 || len(history.Outputs) != 0 {
		t.Fatalf("expected no history for rejected call")
	}
}

func TestFlushClearsEverything(t *testing.T) {
	c := New(kv.NewMemoryStore(0))
	ctx := context.Background()

	key, _ := c.Store(ctx, "x")
	if err := c.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if _, ok, _ := c.Retrieve(ctx, key); ok {
		t.Fatalf("expected value to be flushed")
	}
	if calls, _ := c.Calls(ctx); calls != 0 {
		t.Fatalf("expected counter reset, got %d", calls)
	}
}

func TestEncodeData(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{"text", "text"},
		{[]byte("blob"), "blob"},
		{-42, "-42"},
		{uint8(7), "7"},
		{0.1, "0.1"},
		{float32(0.5), "0.5"},
		{1e21, "1000000000000000000000"},
	}
	for _, tc := range cases {
		got, err := EncodeData(tc.in)
		if err != nil {
			t.Fatalf("encode %v: %v", tc.in, err)
		}
		if string(got) != tc.want {
			t.Fatalf("encode %v: expected %q, got %q", tc.in, tc.want, got)
		}
	}
}
