// Package bpfutils holds helpers for the tethering schedcls programs that are
// independent of how they are attached.
package bpfutils

import (
	"errors"
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/features"
	"github.com/tcassar-diss/tetheroffload/host"
)

var ErrWrongProgramType = errors.New("unexpected program type")

// ClassName is the class the helper table is registered under.
const ClassName = "com/android/networkstack/tethering/BpfUtils"

// IsSchedClsSupported probes the running kernel for schedcls programs.
func IsSchedClsSupported() (bool, error) {
	err := features.HaveProgramType(ebpf.SchedCLS)
	if errors.Is(err, ebpf.ErrNotSupported) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to probe schedcls support: %w", err)
	}

	return true, nil
}

// LoadPinnedProgram loads the schedcls program pinned at path.
func LoadPinnedProgram(path string) (*ebpf.Program, error) {
	prog, err := ebpf.LoadPinnedProgram(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load pinned program %s: %w", path, err)
	}

	if err := checkProgramType(prog.Type()); err != nil {
		prog.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return prog, nil
}

func checkProgramType(t ebpf.ProgramType) error {
	if t != ebpf.SchedCLS {
		return fmt.Errorf("%w: %s, expected %s", ErrWrongProgramType, t, ebpf.SchedCLS)
	}

	return nil
}

// Natives is the helper capability table.
var Natives = []host.NativeMethod{
	{Name: "isSchedClsSupported", Fn: IsSchedClsSupported},
	{Name: "loadPinnedProgram", Fn: LoadPinnedProgram},
}

// Register installs Natives under ClassName. The default load sequence does
// not call it.
func Register(env host.Env) int {
	return env.RegisterNatives(ClassName, Natives)
}
