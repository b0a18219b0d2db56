package register

import "sync"

// Handler is a setup hook invoked with the target being assembled.
type Handler[T any] func(T)

type registry struct {
	mu       sync.Mutex
	handlers map[any][]any
}

var global = &registry{handlers: make(map[any][]any)}

// RegisterFunc records a setup hook under key. Hooks registered from
// package init funcs are resolved later during core assembly.
func RegisterFunc[T any](key any, handler Handler[T]) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.handlers[key] = append(global.handlers[key], handler)
}

// ResolveFuncHandlers returns all hooks registered under key whose
// target type matches T.
func ResolveFuncHandlers[T any](key any) []Handler[T] {
	global.mu.Lock()
	defer global.mu.Unlock()

	var matched []Handler[T]
	for _, raw := range global.handlers[key] {
		if h, ok := raw.(Handler[T]); ok {
			matched = append(matched, h)
		}
	}
	return matched
}
