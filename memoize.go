package tiercache

import (
	"context"
	"reflect"
	"runtime"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/tiercache/codec"
	"github.com/unkn0wn-root/tiercache/key"
)

// Func is a memoized function.
type Func[A, R any] func(ctx context.Context, arg A) (R, error)

// MemoOptions configure Memoize. The zero value is usable.
type MemoOptions[A, R any] struct {
	// TTL of stored results; 0 => never expires.
	TTL time.Duration

	// KeyPrefix namespaces the cache keys. "" => the function's symbol name,
	// e.g. "github.com/acme/reports.loadReport". All keys of one memoized
	// function share "<KeyPrefix>:" so InvalidatePrefix(KeyPrefix+":")
	// drops them.
	KeyPrefix string

	// Args maps the argument to the positional and keyword parts of the
	// cache key. nil => the argument itself is the only positional part.
	Args func(A) (args []any, kwargs map[string]any)

	// Codec for results; nil => codec.Msgpack.
	Codec codec.Codec[R]

	// DisableSingleFlight lets every concurrent caller on a cold key run fn.
	// By default callers of the same key share one call.
	DisableSingleFlight bool
}

// Memoize returns fn wrapped with read-through caching on c. Errors from fn
// are returned unchanged and never cached. Cached values that no longer
// decode are dropped and recomputed.
func Memoize[A, R any](c *Coordinator, fn func(context.Context, A) (R, error), opts MemoOptions[A, R]) Func[A, R] {
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = funcName(fn)
	}
	var cd codec.Codec[R] = codec.Msgpack[R]{}
	if opts.Codec != nil {
		cd = opts.Codec
	}
	args := opts.Args
	if args == nil {
		args = func(a A) ([]any, map[string]any) { return []any{a}, nil }
	}

	compute := func(ctx context.Context, k string, a A) (R, error) {
		v, err := fn(ctx, a)
		if err != nil {
			return v, err
		}
		if err := SetAs(ctx, c, cd, k, v, opts.TTL); err != nil {
			c.log.Warn("memoize: store result failed", Fields{"key": k, "err": err})
		}
		return v, nil
	}

	var group singleflight.Group
	return func(ctx context.Context, a A) (R, error) {
		pos, kw := args(a)
		k := key.Encode(prefix, pos, kw)

		if v, ok := GetAs(ctx, c, cd, k); ok {
			return v, nil
		}
		if opts.DisableSingleFlight {
			return compute(ctx, k, a)
		}

		res, err, _ := group.Do(k, func() (any, error) {
			// an earlier flight may have filled the key after our read
			if v, ok := GetAs(ctx, c, cd, k); ok {
				return v, nil
			}
			// the call is shared; one caller's cancellation must not fail the rest
			return compute(context.WithoutCancel(ctx), k, a)
		})
		if err != nil {
			var zero R
			return zero, err
		}
		v, _ := res.(R)
		return v, nil
	}
}

func funcName(fn any) string {
	if f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()); f != nil {
		return f.Name()
	}
	return "memoize"
}
