// Package instrument wraps operations with invocation counting and
// input/output history recording backed by a kv.Store.
//
// The two wrappers are independent. An operation identity such as
// "Cache.store" names the counter key directly and prefixes the two history
// lists, "<identity>:inputs" and "<identity>:outputs".
package instrument

import (
	"context"
	"strconv"
	"sync"

	platformerrors "github.com/jmgilman/go/errors"

	"kvcache/internal/kv"
	"kvcache/internal/obs"
)

// Func is the shape of an operation that can be counted or recorded.
type Func[In, Out any] func(ctx context.Context, in In) (Out, error)

// Arguments lets a multi-argument input describe the tuple that gets recorded.
// Inputs that do not implement it are recorded as a one-element tuple.
type Arguments interface {
	CallArgs() []any
}

type History struct {
	Inputs  [][]byte
	Outputs [][]byte
}

func InputsKey(identity string) string {
	return identity + ":inputs"
}

func OutputsKey(identity string) string {
	return identity + ":outputs"
}

// CountCalls increments the counter for identity on every invocation,
// whether or not fn succeeds. If the increment fails fn is not invoked.
func CountCalls[In, Out any](store kv.Store, identity string, fn Func[In, Out]) Func[In, Out] {
	return func(ctx context.Context, in In) (Out, error) {
		var zero Out
		if _, err := store.Incr(ctx, identity); err != nil {
			return zero, err
		}
		obs.DefaultMetrics().RecordCall(identity)
		return fn(ctx, in)
	}
}

// RecordHistory appends the encoded input before invoking fn and the encoded
// output after fn returns successfully. A failing fn leaves an input with no
// matching output. Calls through the same wrapper are serialized so input and
// output appends pair up.
func RecordHistory[In, Out any](store kv.Store, identity string, fn Func[In, Out]) Func[In, Out] {
	var mu sync.Mutex
	inputsKey := InputsKey(identity)
	outputsKey := OutputsKey(identity)

	return func(ctx context.Context, in In) (Out, error) {
		var zero Out
		encodedIn, err := EncodeArgs(callArgs(in)...)
		if err != nil {
			return zero, err
		}

		mu.Lock()
		defer mu.Unlock()

		if err := store.RPush(ctx, inputsKey, encodedIn); err != nil {
			return zero, err
		}
		out, err := fn(ctx, in)
		if err != nil {
			return out, err
		}
		encodedOut, err := EncodeValue(out)
		if err != nil {
			return out, err
		}
		if err := store.RPush(ctx, outputsKey, encodedOut); err != nil {
			return out, err
		}
		return out, nil
	}
}

// Calls returns the number of counted invocations of identity.
func Calls(ctx context.Context, store kv.Store, identity string) (int64, error) {
	raw, ok, err := store.Get(ctx, identity)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	count, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, platformerrors.WrapWithContext(err, platformerrors.CodeInvalidInput, "call counter is not an integer", map[string]interface{}{
			"identity": identity,
		})
	}
	return count, nil
}

func ReadHistory(ctx context.Context, store kv.Store, identity string) (History, error) {
	inputs, err := store.LRange(ctx, InputsKey(identity), 0, -1)
	if err != nil {
		return History{}, err
	}
	outputs, err := store.LRange(ctx, OutputsKey(identity), 0, -1)
	if err != nil {
		return History{}, err
	}
	return History{Inputs: inputs, Outputs: outputs}, nil
}

func callArgs(in any) []any {
	if args, ok := in.(Arguments); ok {
		return args.CallArgs()
	}
	return []any{in}
}
