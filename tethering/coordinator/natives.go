package coordinator

import (
	"github.com/tcassar-diss/tetheroffload/host"
)

// ClassName is the class the coordinator's natives are registered under.
const ClassName = "com/android/networkstack/tethering/BpfCoordinator"

// Natives is the coordinator's capability table.
var Natives = []host.NativeMethod{
	{Name: "getBpfCounterNames", Fn: BpfCounterNames},
}

// Register installs Natives under ClassName.
func Register(env host.Env) int {
	return env.RegisterNatives(ClassName, Natives)
}
