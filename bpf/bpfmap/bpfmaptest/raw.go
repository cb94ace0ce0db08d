package bpfmaptest

import "github.com/cilium/ebpf"

// RawFake is a Fake addressed with byte slices.
type RawFake struct {
	f *Fake[string, string]
}

// NewRawFake returns an empty RawFake.
func NewRawFake() *RawFake {
	return &RawFake{f: NewFake[string, string]()}
}

func (r *RawFake) Lookup(key, valueOut interface{}) error {
	k := string(key.([]byte))

	var v string
	if err := r.f.Lookup(&k, &v); err != nil {
		return err
	}

	copy(valueOut.([]byte), v)

	return nil
}

func (r *RawFake) Update(key, value interface{}, flags ebpf.MapUpdateFlags) error {
	k, v := string(key.([]byte)), string(value.([]byte))

	return r.f.Update(&k, &v, flags)
}

func (r *RawFake) Delete(key interface{}) error {
	k := string(key.([]byte))

	return r.f.Delete(&k)
}

func (r *RawFake) NextKey(key, nextKeyOut interface{}) error {
	var next string

	var err error
	if key == nil {
		err = r.f.NextKey(nil, &next)
	} else {
		k := string(key.([]byte))
		err = r.f.NextKey(&k, &next)
	}

	if err != nil {
		return err
	}

	copy(nextKeyOut.([]byte), next)

	return nil
}

func (r *RawFake) Close() error {
	return r.f.Close()
}

// Len returns the number of entries.
func (r *RawFake) Len() int {
	return r.f.Len()
}
