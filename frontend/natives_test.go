package frontend

import (
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tcassar-diss/tetheroffload/bpf"
	"github.com/tcassar-diss/tetheroffload/bpf/tc"
	"github.com/tcassar-diss/tetheroffload/host"
	"github.com/tcassar-diss/tetheroffload/onload"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

var interfaces = map[string]int{"wlan1": 5, "rmnet0": 9, "usb0": 7}

func byName(name string) (*net.Interface, error) {
	idx, ok := interfaces[name]
	if !ok {
		return nil, fmt.Errorf("no such interface %s", name)
	}

	return &net.Interface{Index: idx, Name: name}, nil
}

type filterCall struct {
	ifindex int
	ingress bool
	prio    uint16
	proto   uint16
	path    string
}

func newTcRuntime(t *testing.T, calls *[]filterCall) *host.Runtime {
	t.Helper()

	rt := host.NewRuntime(zap.NewNop().Sugar())

	env, err := rt.GetEnv(host.Version1_6)
	require.NoError(t, err)

	isEthernet := func(iface string) (bool, error) {
		return iface == "wlan1", nil
	}

	add := func(ifindex int, ingress bool, prio, proto uint16, path string) error {
		*calls = append(*calls, filterCall{ifindex, ingress, prio, proto, path})
		return nil
	}

	require.Equal(t, 0, env.RegisterNatives(onload.TcUtilsClass, []host.NativeMethod{
		{Name: "isEthernet", Fn: isEthernet},
		{Name: "tcFilterAddDevBpf", Fn: add},
	}))

	return rt
}

func TestAttachDownstreams(t *testing.T) {
	var calls []filterCall

	rt := newTcRuntime(t, &calls)

	cfg := DefaultConfig()
	cfg.BPF.PinDir = "/pin"
	cfg.Downstreams = []DownstreamConfig{
		{Iface: "wlan1", EgressProg: bpf.ProgDownstream4Ether},
		{Iface: "usb0"},
	}

	require.NoError(t, attachDownstreams(rt, cfg, byName))
	require.Equal(t, []filterCall{
		{5, true, tc.PrioTether6, unix.ETH_P_IPV6, "/pin/" + bpf.ProgUpstream6Ether},
		{5, false, tc.PrioTether4, unix.ETH_P_IP, "/pin/" + bpf.ProgDownstream4Ether},
		{7, true, tc.PrioTether6, unix.ETH_P_IPV6, "/pin/" + bpf.ProgUpstream6RawIP},
	}, calls)
}

func TestAttachDownstreams_UnknownInterface(t *testing.T) {
	var calls []filterCall

	rt := newTcRuntime(t, &calls)

	cfg := DefaultConfig()
	cfg.Downstreams = []DownstreamConfig{{Iface: "eth9"}}

	require.Error(t, attachDownstreams(rt, cfg, byName))
	require.Empty(t, calls)
}

func TestAttachDownstreams_MissingTable(t *testing.T) {
	rt := host.NewRuntime(zap.NewNop().Sugar())

	err := attachDownstreams(rt, DefaultConfig(), byName)
	require.ErrorIs(t, err, ErrMissingNative)
}

func TestLookupNative_WrongType(t *testing.T) {
	rt := host.NewRuntime(zap.NewNop().Sugar())

	env, err := rt.GetEnv(host.Version1_6)
	require.NoError(t, err)
	require.Equal(t, 0, env.RegisterNatives("c", []host.NativeMethod{
		{Name: "m", Fn: func() {}},
	}))

	_, err = lookupNative[func() error](rt, "c", "m")
	require.ErrorIs(t, err, ErrMissingNative)

	fn, err := lookupNative[func()](rt, "c", "m")
	require.NoError(t, err)
	require.NotNil(t, fn)
}

func TestResolveLimits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Coordinator.Limits = []LimitConfig{
		{Iface: "rmnet0", Bytes: 100},
		{Iface: "wlan1", Bytes: 0},
	}

	limits, err := resolveLimits(cfg, byName)
	require.NoError(t, err)
	require.Equal(t, map[uint32]uint64{9: 100, 5: 0}, limits)

	cfg.Coordinator.Limits = append(cfg.Coordinator.Limits, LimitConfig{Iface: "missing"})

	_, err = resolveLimits(cfg, byName)
	require.Error(t, err)
}

func TestFilterFor(t *testing.T) {
	cases := []struct {
		prog  string
		prio  uint16
		proto uint16
	}{
		{bpf.ProgDownstream6RawIP, tc.PrioTether6, unix.ETH_P_IPV6},
		{bpf.ProgUpstream4Ether, tc.PrioTether4, unix.ETH_P_IP},
		{"custom", tc.PrioTether6, unix.ETH_P_ALL},
	}

	for _, c := range cases {
		prio, proto := filterFor(c.prog)
		require.Equal(t, c.prio, prio, c.prog)
		require.Equal(t, c.proto, proto, c.prog)
	}
}

func TestInstallTcUtils(t *testing.T) {
	original := tc.Default

	restore := installTcUtils(zap.NewNop().Sugar())
	require.NotSame(t, original, tc.Default)

	nested := installTcUtils(zap.NewNop().Sugar())
	inner := tc.Default
	require.NotSame(t, original, inner)

	nested()
	require.NotSame(t, inner, tc.Default)

	restore()
	require.Same(t, original, tc.Default)
}
