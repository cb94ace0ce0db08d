package bpfmap

import (
	"github.com/tcassar-diss/tetheroffload/host"
)

// Natives is the capability table for raw map access.
var Natives = []host.NativeMethod{
	{Name: "bpfFdGet", Fn: bpfFdGet},
	{Name: "closeMap", Fn: (*RawMap).Close},
	{Name: "writeToMapEntry", Fn: (*RawMap).Write},
	{Name: "deleteMapEntry", Fn: (*RawMap).Delete},
	{Name: "getNextMapKey", Fn: (*RawMap).NextKey},
	{Name: "findMapEntry", Fn: (*RawMap).Find},
}

// bpfFdGet takes the kernel's map open flags.
func bpfFdGet(path string, flags int, keySize, valueSize uint32) (*RawMap, error) {
	mode, err := ModeFromFlags(flags)
	if err != nil {
		return nil, err
	}

	return OpenRaw(path, mode, keySize, valueSize)
}

// Register installs Natives under className.
func Register(env host.Env, className string) int {
	return env.RegisterNatives(className, Natives)
}
