package bpfmap

import (
	"errors"
	"fmt"

	"github.com/cilium/ebpf"
)

// RawMap is a kernel map addressed with byte slices of fixed sizes.
type RawMap struct {
	m         KernelMap
	keySize   uint32
	valueSize uint32
}

// OpenRaw loads the map pinned at path. The sizes of the pinned map must
// match keySize and valueSize.
func OpenRaw(path string, mode Mode, keySize, valueSize uint32) (*RawMap, error) {
	m, err := loadPinned(path, mode)
	if err != nil {
		return nil, err
	}

	if m.KeySize() != keySize || m.ValueSize() != valueSize {
		defer m.Close()

		return nil, fmt.Errorf("%w: %s has key %d value %d, wanted key %d value %d",
			ErrSizeMismatch, path, m.KeySize(), m.ValueSize(), keySize, valueSize)
	}

	return NewRaw(m, keySize, valueSize), nil
}

// NewRaw wraps an already opened kernel map.
func NewRaw(m KernelMap, keySize, valueSize uint32) *RawMap {
	return &RawMap{
		m:         m,
		keySize:   keySize,
		valueSize: valueSize,
	}
}

func (r *RawMap) checkKey(key []byte) error {
	if uint32(len(key)) != r.keySize {
		return fmt.Errorf("%w: key is %d bytes, map expects %d", ErrSizeMismatch, len(key), r.keySize)
	}

	return nil
}

// Find returns the value stored at key.
func (r *RawMap) Find(key []byte) ([]byte, error) {
	if err := r.checkKey(key); err != nil {
		return nil, err
	}

	value := make([]byte, r.valueSize)
	if err := r.m.Lookup(key, value); err != nil {
		return nil, fmt.Errorf("lookup: %w", err)
	}

	return value, nil
}

// Write stores value at key. flags takes the kernel's BPF_ANY, BPF_NOEXIST
// and BPF_EXIST values.
func (r *RawMap) Write(key, value []byte, flags uint64) error {
	if err := r.checkKey(key); err != nil {
		return err
	}

	if uint32(len(value)) != r.valueSize {
		return fmt.Errorf("%w: value is %d bytes, map expects %d", ErrSizeMismatch, len(value), r.valueSize)
	}

	if err := r.m.Update(key, value, ebpf.MapUpdateFlags(flags)); err != nil {
		return fmt.Errorf("update: %w", err)
	}

	return nil
}

// Delete removes key, reporting whether it was present.
func (r *RawMap) Delete(key []byte) (bool, error) {
	if err := r.checkKey(key); err != nil {
		return false, err
	}

	err := r.m.Delete(key)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("delete: %w", err)
	}

	return true, nil
}

// NextKey returns the key after key, or the first key if key is nil.
func (r *RawMap) NextKey(key []byte) ([]byte, error) {
	next := make([]byte, r.keySize)

	var err error
	if key == nil {
		err = r.m.NextKey(nil, next)
	} else {
		if err := r.checkKey(key); err != nil {
			return nil, err
		}

		err = r.m.NextKey(key, next)
	}

	if err != nil {
		return nil, fmt.Errorf("next key: %w", err)
	}

	return next, nil
}

// Close releases the map's file descriptor.
func (r *RawMap) Close() error {
	return r.m.Close()
}
