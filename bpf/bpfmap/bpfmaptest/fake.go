// Package bpfmaptest provides in-memory kernel maps for tests.
package bpfmaptest

import (
	"fmt"
	"sync"

	"github.com/cilium/ebpf"
)

// Fake is an in-memory hash map with the kernel's update flag semantics.
// Iteration follows insertion order.
type Fake[K comparable, V any] struct {
	mu     sync.Mutex
	keys   []K
	data   map[K]V
	closed bool

	// Err, when set, is returned by every operation.
	Err error
}

// NewFake returns an empty Fake.
func NewFake[K comparable, V any]() *Fake[K, V] {
	return &Fake[K, V]{data: make(map[K]V)}
}

func (f *Fake[K, V]) Lookup(key, valueOut interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return f.Err
	}

	v, ok := f.data[*key.(*K)]
	if !ok {
		return ebpf.ErrKeyNotExist
	}

	*valueOut.(*V) = v

	return nil
}

func (f *Fake[K, V]) Update(key, value interface{}, flags ebpf.MapUpdateFlags) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return f.Err
	}

	k := *key.(*K)
	_, exists := f.data[k]

	switch flags {
	case ebpf.UpdateAny:
	case ebpf.UpdateNoExist:
		if exists {
			return ebpf.ErrKeyExist
		}
	case ebpf.UpdateExist:
		if !exists {
			return ebpf.ErrKeyNotExist
		}
	default:
		return fmt.Errorf("unsupported update flags %d", flags)
	}

	if !exists {
		f.keys = append(f.keys, k)
	}

	f.data[k] = *value.(*V)

	return nil
}

func (f *Fake[K, V]) Delete(key interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return f.Err
	}

	k := *key.(*K)
	if _, ok := f.data[k]; !ok {
		return ebpf.ErrKeyNotExist
	}

	delete(f.data, k)

	for i, existing := range f.keys {
		if existing == k {
			f.keys = append(f.keys[:i], f.keys[i+1:]...)
			break
		}
	}

	return nil
}

func (f *Fake[K, V]) NextKey(key, nextKeyOut interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return f.Err
	}

	next := 0

	if key != nil {
		k := *key.(*K)

		for i, existing := range f.keys {
			if existing == k {
				next = i + 1
				break
			}
		}
	}

	if next >= len(f.keys) {
		return ebpf.ErrKeyNotExist
	}

	*nextKeyOut.(*K) = f.keys[next]

	return nil
}

func (f *Fake[K, V]) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true

	return nil
}

// Closed reports whether Close was called.
func (f *Fake[K, V]) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closed
}

// Len returns the number of entries.
func (f *Fake[K, V]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.data)
}

// Get returns the entry at k without going through the map API.
func (f *Fake[K, V]) Get(k K) (V, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, ok := f.data[k]

	return v, ok
}

// Set writes an entry without going through the map API, as the kernel
// programs would.
func (f *Fake[K, V]) Set(k K, v V) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.data[k]; !ok {
		f.keys = append(f.keys, k)
	}

	f.data[k] = v
}
