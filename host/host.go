// Package host models the runtime that loads the tethering native module.
//
// A host hands the module a VM at load time. The module asks the VM for an
// Env at a given ABI version and installs its capability tables through
// Env.RegisterNatives. Runtime is an in-process implementation of both sides
// of that contract.
package host

import (
	"errors"
	"reflect"
)

// ABI version tokens.
const (
	Version1_1 int32 = 0x00010001
	Version1_2 int32 = 0x00010002
	Version1_4 int32 = 0x00010004
	Version1_6 int32 = 0x00010006
	Version1_8 int32 = 0x00010008
)

// Status tokens.
const (
	OK       int32 = 0
	Err      int32 = -1
	EVersion int32 = -3
)

var (
	ErrVersionUnsupported = errors.New("abi version unsupported")
	ErrLoadFailed         = errors.New("module load failed")
)

// NativeMethod is one entry of a capability table.
type NativeMethod struct {
	Name string
	Fn   any
}

// Signature is the Go type of the method's implementation.
func (m NativeMethod) Signature() string {
	if m.Fn == nil {
		return ""
	}

	return reflect.TypeOf(m.Fn).String()
}

// Env is the per-load interface handed to a module.
type Env interface {
	// RegisterNatives installs methods under className. A negative return
	// value signals failure.
	RegisterNatives(className string, methods []NativeMethod) int
}

// VM is the handle a host passes to a module's entry point.
type VM interface {
	GetEnv(version int32) (Env, error)
}

// OnLoadFunc is a module entry point. It returns the ABI version the module
// was built against, or Err.
type OnLoadFunc func(vm VM, reserved any) int32

// KnownVersion reports whether v is one of the ABI version tokens.
func KnownVersion(v int32) bool {
	switch v {
	case Version1_1, Version1_2, Version1_4, Version1_6, Version1_8:
		return true
	default:
		return false
	}
}
