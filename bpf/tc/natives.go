package tc

import (
	"github.com/tcassar-diss/tetheroffload/host"
)

// Default is the Utils instance behind the capability table.
var Default = &Utils{}

// Natives is the capability table for traffic control.
var Natives = []host.NativeMethod{
	{Name: "isEthernet", Fn: isEthernet},
	{Name: "tcFilterAddDevBpf", Fn: tcFilterAddDevBpf},
	{Name: "tcFilterDelDev", Fn: tcFilterDelDev},
}

func isEthernet(iface string) (bool, error) {
	return Default.IsEthernet(iface)
}

func tcFilterAddDevBpf(ifindex int, ingress bool, prio, proto uint16, progPath string) error {
	return Default.FilterAddDevBpf(ifindex, ingress, prio, proto, progPath)
}

func tcFilterDelDev(ifindex int, ingress bool, prio, proto uint16) error {
	return Default.FilterDelDev(ifindex, ingress, prio, proto)
}

// Register installs Natives under className.
func Register(env host.Env, className string) int {
	return env.RegisterNatives(className, Natives)
}
