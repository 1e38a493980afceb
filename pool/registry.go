package pool

import (
	"context"
	"reflect"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// handler runs a registered task on msgpack-encoded input and output.
type handler func(ctx context.Context, payload []byte) ([]byte, error)

var registry = struct {
	sync.RWMutex
	byName map[string]handler
	byPC   map[uintptr]string
}{
	byName: make(map[string]handler),
	byPC:   make(map[uintptr]string),
}

// Register makes fn runnable in ModeProcess under name and returns fn
// unchanged. Call it from package-level variable initializers so the parent
// and every worker process register the same set. Items and results are
// encoded with msgpack.
//
// Functions are matched by code pointer: register top-level functions, not
// closures whose behavior depends on captured variables.
func Register[T, R any](name string, fn Task[T, R]) Task[T, R] {
	h := func(ctx context.Context, payload []byte) ([]byte, error) {
		var item T
		if err := msgpack.Unmarshal(payload, &item); err != nil {
			return nil, errors.Wrapf(err, "pool: decode %s input", name)
		}
		r, err := fn(ctx, item)
		if err != nil {
			return nil, err
		}
		return msgpack.Marshal(r)
	}

	registry.Lock()
	defer registry.Unlock()
	if _, dup := registry.byName[name]; dup {
		panic("pool: duplicate task name " + name)
	}
	registry.byName[name] = h
	registry.byPC[funcPC(fn)] = name
	return fn
}

func lookupName(fn any) (string, bool) {
	registry.RLock()
	defer registry.RUnlock()
	name, ok := registry.byPC[funcPC(fn)]
	return name, ok
}

// Registered reports whether fn was passed to Register, i.e. whether it can
// run in ModeProcess.
func Registered(fn any) bool {
	_, ok := lookupName(fn)
	return ok
}

func lookupHandler(name string) (handler, bool) {
	registry.RLock()
	defer registry.RUnlock()
	h, ok := registry.byName[name]
	return h, ok
}

func funcPC(fn any) uintptr { return reflect.ValueOf(fn).Pointer() }
