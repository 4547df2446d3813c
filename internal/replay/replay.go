// Package replay renders the recorded call history of an operation identity
// as an ordered trace.
package replay

import (
	"context"
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"

	"kvcache/internal/instrument"
	"kvcache/internal/kv"
)

type Record struct {
	Identity string
	Index    int
	Inputs   []any
	Output   any
}

// String renders the record as "<identity>(*<input-tuple>) -> <output>".
func (r Record) String() string {
	return fmt.Sprintf("%s(*%s) -> %s", r.Identity, FormatTuple(r.Inputs), formatOutput(r.Output))
}

type Engine struct {
	store kv.Store
}

func New(store kv.Store) *Engine {
	return &Engine{store: store}
}

// Records yields the recorded calls of identity in call order. History is read
// from the store each time the sequence is ranged over. When inputs and
// outputs differ in length only the paired prefix is yielded.
func (e *Engine) Records(ctx context.Context, identity string) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		history, err := instrument.ReadHistory(ctx, e.store, identity)
		if err != nil {
			yield(Record{}, err)
			return
		}

		pairs := min(len(history.Inputs), len(history.Outputs))
		for i := 0; i < pairs; i++ {
			inputs, err := instrument.DecodeArgs(history.Inputs[i])
			if err != nil {
				yield(Record{}, err)
				return
			}
			output, err := instrument.DecodeValue(history.Outputs[i])
			if err != nil {
				yield(Record{}, err)
				return
			}
			if !yield(Record{Identity: identity, Index: i, Inputs: inputs, Output: output}, nil) {
				return
			}
		}
	}
}

func (e *Engine) Lines(ctx context.Context, identity string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for record, err := range e.Records(ctx, identity) {
			if err != nil {
				yield("", err)
				return
			}
			if !yield(record.String(), nil) {
				return
			}
		}
	}
}

// Calls returns the recorded call count for identity.
func (e *Engine) Calls(ctx context.Context, identity string) (int64, error) {
	return instrument.Calls(ctx, e.store, identity)
}

// Print writes a header with the call count followed by one line per record.
func (e *Engine) Print(ctx context.Context, w io.Writer, identity string) error {
	calls, err := e.Calls(ctx, identity)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "%s was called %d times:\n", identity, calls); err != nil {
		return err
	}
	for line, err := range e.Lines(ctx, identity) {
		if err != nil {
			return err
		}
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// FormatTuple renders args as a parenthesized tuple. A single element keeps a
// trailing comma.
func FormatTuple(args []any) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		parts = append(parts, FormatValue(arg))
	}
	if len(parts) == 1 {
		return "(" + parts[0] + ",)"
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func FormatValue(value any) string {
	switch v := value.(type) {
	case string:
		return strconv.Quote(v)
	case []byte:
		return "b" + strconv.Quote(string(v))
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

func formatOutput(value any) string {
	if text, ok := value.(string); ok {
		return text
	}
	return FormatValue(value)
}
