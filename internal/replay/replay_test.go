package replay

import (
	"context"
	"strings"
	"testing"

	"kvcache/internal/cache"
	"kvcache/internal/instrument"
	"kvcache/internal/kv"
	"kvcache/internal/testutil"
)

func TestReplayListsCallsInOrder(t *testing.T) {
	_, store := testutil.StartRedis(t)
	c := cache.New(store)
	ctx := context.Background()

	keys := make([]string, 0, 3)
	for _, value := range []any{"foo", "bar", 42} {
		key, err := c.Store(ctx, value)
		if err != nil {
			t.Fatalf("store: %v", err)
		}
		keys = append(keys, key)
	}

	engine := New(store)
	var lines []string
	for line, err := range engine.Lines(ctx, cache.StoreIdentity) {
		if err != nil {
			t.Fatalf("replay: %v", err)
		}
		lines = append(lines, line)
	}
	want := []string{
		`Cache.store(*("foo",)) -> ` + keys[0],
		`Cache.store(*("bar",)) -> ` + keys[1],
		`Cache.store(*(42,)) -> ` + keys[2],
	}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %d: %v", len(want), len(lines), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d: expected %q, got %q", i, want[i], lines[i])
		}
	}
}

func TestReplayIsRestartable(t *testing.T) {
	store := kv.NewMemoryStore(0)
	c := cache.New(store)
	ctx := context.Background()
	engine := New(store)

	_, _ = c.Store(ctx, "a")
	seq := engine.Records(ctx, cache.StoreIdentity)

	count := func() int {
		n := 0
		for _, err := range seq {
			if err != nil {
				t.Fatalf("replay: %v", err)
			}
			n++
		}
		return n
	}
	if got := count(); got != 1 {
		t.Fatalf("expected 1 record, got %d", got)
	}
	_, _ = c.Store(ctx, "b")
	if got := count(); got != 2 {
		t.Fatalf("expected re-read to see 2 records, got %d", got)
	}
}

func TestReplayUnequalLengths(t *testing.T) {
	store := kv.NewMemoryStore(0)
	ctx := context.Background()

	in1, _ := instrument.EncodeArgs("x")
	in2, _ := instrument.EncodeArgs("y")
	out1, _ := instrument.EncodeValue("r1")
	_ = store.RPush(ctx, instrument.InputsKey("op"), in1)
	_ = store.RPush(ctx, instrument.InputsKey("op"), in2)
	_ = store.RPush(ctx, instrument.OutputsKey("op"), out1)

	var records []Record
	for record, err := range New(store).Records(ctx, "op") {
		if err != nil {
			t.Fatalf("replay: %v", err)
		}
		records = append(records, record)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 paired record, got %d", len(records))
	}
	if records[0].String() != `op(*("x",)) -> r1` {
		t.Fatalf("unexpected record %q", records[0].String())
	}
}

func TestReplayEmptyHistory(t *testing.T) {
	n := 0
	for _, err := range New(kv.NewMemoryStore(0)).Records(context.Background(), "never") {
		if err != nil {
			t.Fatalf("replay: %v", err)
		}
		n++
	}
	if n != 0 {
		t.Fatalf("expected no records, got %d", n)
	}
}

func TestReplayStopsEarly(t *testing.T) {
	store := kv.NewMemoryStore(0)
	c := cache.New(store)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _ = c.Store(ctx, i)
	}

	n := 0
	for range New(store).Records(ctx, cache.StoreIdentity) {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Fatalf("expected to stop after 2, got %d", n)
	}
}

func TestReplayCorruptRecordYieldsError(t *testing.T) {
	store := kv.NewMemoryStore(0)
	ctx := context.Background()
	_ = store.RPush(ctx, instrument.InputsKey("op"), []byte("('x',)"))
	_ = store.RPush(ctx, instrument.OutputsKey("op"), []byte("r1"))

	for _, err := range New(store).Records(ctx, "op") {
		if err == nil {
			t.Fatalf("expected decode error for corrupt record")
		}
	}
}

func TestPrintWritesHeaderAndLines(t *testing.T) {
	store := kv.NewMemoryStore(0)
	c := cache.New(store)
	ctx := context.Background()
	key, _ := c.Store(ctx, []byte("raw"))

	var out strings.Builder
	if err := New(store).Print(ctx, &out, cache.StoreIdentity); err != nil {
		t.Fatalf("print: %v", err)
	}
	want := "Cache.store was called 1 times:\n" + `Cache.store(*(b"raw",)) -> ` + key + "\n"
	if out.String() != want {
		t.Fatalf("expected %q, got %q", want, out.String())
	}
}

func TestFormatTuple(t *testing.T) {
	cases := []struct {
		args []any
		want string
	}{
		{nil, "()"},
		{[]any{"a"}, `("a",)`},
		{[]any{"a", int64(1), 2.5, true}, `("a", 1, 2.5, true)`},
		{[]any{uint64(9), []byte("x")}, `(9, b"x")`},
	}
	for _, tc := range cases {
		if got := FormatTuple(tc.args); got != tc.want {
			t.Fatalf("expected %s, got %s", tc.want, got)
		}
	}
}
