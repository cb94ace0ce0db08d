// Package bpfmap is a typed interface to pinned BPF maps.
//
// Map wraps a kernel map with a fixed key and value type and exposes the
// operations the tethering offload needs: strict inserts and updates,
// lookups, deletion, key iteration and bulk clearing. RawMap exposes the same
// operations on untyped byte slices for callers that only know sizes.
package bpfmap

import (
	"errors"
	"fmt"

	"github.com/cilium/ebpf"
	"golang.org/x/sys/unix"
)

var (
	ErrKeyNotFound  = ebpf.ErrKeyNotExist
	ErrKeyExists    = ebpf.ErrKeyExist
	ErrSizeMismatch = errors.New("map key or value size mismatch")
	ErrInvalidMode  = errors.New("invalid map access mode")
)

// KernelMap is the subset of *ebpf.Map used by Map.
type KernelMap interface {
	Lookup(key, valueOut interface{}) error
	Update(key, value interface{}, flags ebpf.MapUpdateFlags) error
	Delete(key interface{}) error
	NextKey(key, nextKeyOut interface{}) error
	Close() error
}

// Mode selects how a pinned map is opened.
type Mode int

const (
	ModeReadWrite Mode = iota
	ModeReadOnly
	ModeWriteOnly
)

// ModeFromFlags converts the kernel's BPF_F_RDONLY and BPF_F_WRONLY open
// flags to a Mode. Zero is read-write.
func ModeFromFlags(flags int) (Mode, error) {
	switch flags {
	case 0:
		return ModeReadWrite, nil
	case unix.BPF_F_RDONLY:
		return ModeReadOnly, nil
	case unix.BPF_F_WRONLY:
		return ModeWriteOnly, nil
	default:
		return 0, fmt.Errorf("%w: flags 0x%x", ErrInvalidMode, flags)
	}
}

func (m Mode) pinOptions() (*ebpf.LoadPinOptions, error) {
	switch m {
	case ModeReadWrite:
		return &ebpf.LoadPinOptions{}, nil
	case ModeReadOnly:
		return &ebpf.LoadPinOptions{ReadOnly: true}, nil
	case ModeWriteOnly:
		return &ebpf.LoadPinOptions{WriteOnly: true}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidMode, m)
	}
}

func loadPinned(path string, mode Mode) (*ebpf.Map, error) {
	opts, err := mode.pinOptions()
	if err != nil {
		return nil, err
	}

	m, err := ebpf.LoadPinnedMap(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load pinned map %s: %w", path, err)
	}

	return m, nil
}

// Map is a kernel map holding keys of type K and values of type V. K and V
// must be fixed-size types whose layout matches the kernel's.
type Map[K, V any] struct {
	m KernelMap
}

// Open loads the map pinned at path.
func Open[K, V any](path string, mode Mode) (*Map[K, V], error) {
	m, err := loadPinned(path, mode)
	if err != nil {
		return nil, err
	}

	return New[K, V](m), nil
}

// New wraps an already opened kernel map.
func New[K, V any](m KernelMap) *Map[K, V] {
	return &Map[K, V]{m: m}
}

// GetValue returns the value stored at key, or ErrKeyNotFound.
func (m *Map[K, V]) GetValue(key K) (V, error) {
	var v V

	if err := m.m.Lookup(&key, &v); err != nil {
		return v, fmt.Errorf("lookup: %w", err)
	}

	return v, nil
}

// ContainsKey reports whether key is present.
func (m *Map[K, V]) ContainsKey(key K) (bool, error) {
	_, err := m.GetValue(key)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}

	return err == nil, err
}

// InsertEntry adds a new entry, failing with ErrKeyExists if key is present.
func (m *Map[K, V]) InsertEntry(key K, value V) error {
	return m.update(key, value, ebpf.UpdateNoExist)
}

// UpdateEntry replaces an existing entry, failing with ErrKeyNotFound if key
// is absent.
func (m *Map[K, V]) UpdateEntry(key K, value V) error {
	return m.update(key, value, ebpf.UpdateExist)
}

// InsertOrReplaceEntry writes key unconditionally.
func (m *Map[K, V]) InsertOrReplaceEntry(key K, value V) error {
	return m.update(key, value, ebpf.UpdateAny)
}

func (m *Map[K, V]) update(key K, value V, flags ebpf.MapUpdateFlags) error {
	if err := m.m.Update(&key, &value, flags); err != nil {
		return fmt.Errorf("update: %w", err)
	}

	return nil
}

// DeleteEntry removes key. It returns false if key was not present.
func (m *Map[K, V]) DeleteEntry(key K) (bool, error) {
	err := m.m.Delete(&key)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("delete: %w", err)
	}

	return true, nil
}

// GetFirstKey returns the first key in iteration order, or ErrKeyNotFound if
// the map is empty.
func (m *Map[K, V]) GetFirstKey() (K, error) {
	var k K

	if err := m.m.NextKey(nil, &k); err != nil {
		return k, fmt.Errorf("first key: %w", err)
	}

	return k, nil
}

// GetNextKey returns the key following key. ErrKeyNotFound marks the end of
// iteration. If key is no longer present iteration restarts at the first
// key, as the kernel does.
func (m *Map[K, V]) GetNextKey(key K) (K, error) {
	var next K

	if err := m.m.NextKey(&key, &next); err != nil {
		return next, fmt.Errorf("next key: %w", err)
	}

	return next, nil
}

// ForEach calls fn for every entry. fn may delete the entry it is given.
// Iteration stops at the first error returned by fn.
func (m *Map[K, V]) ForEach(fn func(K, V) error) error {
	key, err := m.GetFirstKey()

	for err == nil {
		next, nextErr := m.GetNextKey(key)

		v, lookupErr := m.GetValue(key)
		switch {
		case lookupErr == nil:
			if err := fn(key, v); err != nil {
				return err
			}
		case !errors.Is(lookupErr, ErrKeyNotFound):
			return lookupErr
		}

		key, err = next, nextErr
	}

	if errors.Is(err, ErrKeyNotFound) {
		return nil
	}

	return err
}

// Clear deletes every entry.
func (m *Map[K, V]) Clear() error {
	for {
		key, err := m.GetFirstKey()
		if errors.Is(err, ErrKeyNotFound) {
			return nil
		} else if err != nil {
			return err
		}

		if _, err := m.DeleteEntry(key); err != nil {
			return err
		}
	}
}

// IsEmpty reports whether the map has no entries.
func (m *Map[K, V]) IsEmpty() (bool, error) {
	_, err := m.GetFirstKey()
	if errors.Is(err, ErrKeyNotFound) {
		return true, nil
	}

	return false, err
}

// Close releases the map. A nil Map has nothing to release.
func (m *Map[K, V]) Close() error {
	if m == nil || m.m == nil {
		return nil
	}

	return m.m.Close()
}
