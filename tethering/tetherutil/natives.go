package tetherutil

import "github.com/tcassar-diss/tetheroffload/host"

// ClassName is the class the utility table is registered under.
const ClassName = "com/android/networkstack/tethering/util/TetheringUtils"

// Natives is the capability table for socket setup.
var Natives = []host.NativeMethod{
	{Name: "setupNaSocket", Fn: SetupNaSocket},
	{Name: "setupNsSocket", Fn: SetupNsSocket},
	{Name: "setupRaSocket", Fn: SetupRaSocket},
}

// Register installs Natives under ClassName.
func Register(env host.Env) int {
	return env.RegisterNatives(ClassName, Natives)
}
