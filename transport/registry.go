package transport

import (
	"strings"
	"sync"
)

// InitFunc builds a backend instance from the backend-specific part of a
// target spec.
type InitFunc func(spec string) (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]InitFunc{}
)

// Register makes a backend available under the given scheme. It is meant to
// be called from a backend package's init and panics if the scheme is
// already taken: a plugin is registered at most once and its descriptor
// lives for the process lifetime.
func Register(scheme string, init InitFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if init == nil {
		panic("transport: Register with nil init for scheme " + scheme)
	}
	if _, dup := registry[scheme]; dup {
		panic("transport: Register called twice for scheme " + scheme)
	}
	registry[scheme] = init
}

// lookup resolves a scheme to its registered init function.
func lookup(scheme string) (InitFunc, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	init, ok := registry[scheme]

	return init, ok
}

// Schemes lists the registered backend schemes.
func Schemes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	schemes := make([]string, 0, len(registry))
	for scheme := range registry {
		schemes = append(schemes, scheme)
	}

	return schemes
}

// New parses a "scheme:backend-spec" target spec, binds the backend
// registered for the scheme and returns a target wrapping it. The substring
// after the first ':' is handed to the backend verbatim; a missing ':'
// means an empty backend spec.
func New(spec string) (*Target, error) {
	scheme := spec
	rest := ""
	if i := strings.IndexByte(spec, ':'); i >= 0 {
		scheme = spec[:i]
		rest = spec[i+1:]
	}

	if scheme == "" {
		return nil, ErrInvalidTarget.Wrapf("missing scheme in %q", spec)
	}

	init, ok := lookup(scheme)
	if !ok {
		return nil, ErrUnknownPlugin.Wrapf("no plugin registered for scheme %q", scheme)
	}

	backend, err := init(rest)
	if err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, ErrIncompatiblePlugin.Wrapf("plugin %q returned no backend", scheme)
	}

	return newTarget(backend), nil
}
