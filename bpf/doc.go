// Package bpf describes the kernelspace side of the tethering offload
// programs: where their maps and programs are pinned and the layout of the
// keys and values stored in those maps.
//
// The layouts must match the structs used by the schedcls programs
// byte-for-byte, so every type here is made of fixed-size fields with
// explicit padding.
//
// This package is intended as a description of kernelspace, without
// containing specific business logic.
package bpf
