package tc

import (
	"errors"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/cilium/ebpf"
	"github.com/jsimonetti/rtnetlink/v2"
	"github.com/stretchr/testify/require"
	"github.com/tcassar-diss/tetheroffload/host"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

type fakeLinks map[uint32]uint16

func (f fakeLinks) Get(index uint32) (rtnetlink.LinkMessage, error) {
	typ, ok := f[index]
	if !ok {
		return rtnetlink.LinkMessage{}, errors.New("no such device")
	}

	return rtnetlink.LinkMessage{Index: index, Type: typ}, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type fakeLink struct {
	closed *int
	err    error
}

func (l fakeLink) Close() error {
	*l.closed++
	return l.err
}

func newTestUtils(links fakeLinks) *Utils {
	ifaces := map[string]int{"wlan0": 1, "rmnet0": 2, "ppp0": 3, "ip6tnl0": 4, "dummy0": 5}

	return &Utils{
		logger: zap.NewNop().Sugar(),
		links: func() (linkGetter, io.Closer, error) {
			return links, nopCloser{}, nil
		},
		ifaceByName: func(name string) (*net.Interface, error) {
			idx, ok := ifaces[name]
			if !ok {
				return nil, errors.New("no such network interface")
			}

			return &net.Interface{Index: idx, Name: name}, nil
		},
	}
}

func TestUtils_IsEthernet(t *testing.T) {
	u := newTestUtils(fakeLinks{
		1: unix.ARPHRD_ETHER,
		2: arphrdRawIP,
		3: unix.ARPHRD_PPP,
		4: unix.ARPHRD_TUNNEL6,
		5: unix.ARPHRD_NONE,
	})

	cases := []struct {
		iface string
		want  bool
		err   error
	}{
		{iface: "wlan0", want: true},
		{iface: "rmnet0", want: false},
		{iface: "ppp0", want: false},
		{iface: "dummy0", want: false},
		{iface: "ip6tnl0", err: ErrUnknownHardware},
	}

	for _, c := range cases {
		t.Run(c.iface, func(t *testing.T) {
			got, err := u.IsEthernet(c.iface)
			if c.err != nil {
				require.ErrorIs(t, err, c.err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, c.want, got)
		})
	}

	_, err := u.IsEthernet("missing0")
	require.Error(t, err)
}

func TestUtils_FilterLifecycle(t *testing.T) {
	u := newTestUtils(nil)

	closed := 0
	var attached []int

	u.loadProgram = func(path string) (*ebpf.Program, error) {
		if path == "/missing" {
			return nil, errors.New("no such file")
		}

		return nil, nil
	}
	u.attach = func(ifindex int, ingress bool, _ *ebpf.Program, _ io.Closer) (io.Closer, error) {
		attached = append(attached, ifindex)
		return fakeLink{closed: &closed}, nil
	}

	require.ErrorIs(t, u.FilterAddDevBpf(0, true, 1, 0x86dd, "/prog"), ErrInvalidIfindex)
	require.Error(t, u.FilterAddDevBpf(3, true, 1, 0x86dd, "/missing"))

	require.NoError(t, u.FilterAddDevBpf(3, true, 1, 0x86dd, "/prog"))
	require.ErrorIs(t, u.FilterAddDevBpf(3, true, 1, 0x86dd, "/prog"), ErrFilterExists)
	require.NoError(t, u.FilterAddDevBpf(3, false, 1, 0x86dd, "/prog"))
	require.NoError(t, u.FilterAddDevBpf(2, true, 2, 0x0800, "/prog"))

	require.Equal(t, []int{3, 3, 2}, attached)
	require.Equal(t, []Filter{
		{Ifindex: 2, Ingress: true, Prio: 2, Proto: 0x0800},
		{Ifindex: 3, Ingress: true, Prio: 1, Proto: 0x86dd},
		{Ifindex: 3, Ingress: false, Prio: 1, Proto: 0x86dd},
	}, u.Filters())

	require.NoError(t, u.FilterDelDev(3, true, 1, 0x86dd))
	require.ErrorIs(t, u.FilterDelDev(3, true, 1, 0x86dd), ErrFilterNotFound)
	require.Equal(t, 1, closed)

	require.NoError(t, u.Close())
	require.Equal(t, 3, closed)
	require.Empty(t, u.Filters())
}

type namedLink struct {
	name string
}

func (namedLink) Close() error { return nil }

func TestUtils_FilterOrder(t *testing.T) {
	u := newTestUtils(nil)
	u.loadProgram = func(string) (*ebpf.Program, error) { return nil, nil }

	var before []string

	u.attach = func(ifindex int, ingress bool, _ *ebpf.Program, next io.Closer) (io.Closer, error) {
		name := "tail"
		if next != nil {
			name = next.(namedLink).name
		}

		before = append(before, name)

		return namedLink{name: fmt.Sprintf("if%d/%v/%d", ifindex, ingress, len(before))}, nil
	}

	require.NoError(t, u.FilterAddDevBpf(3, true, 5, 0x86dd, "/prog"))
	require.NoError(t, u.FilterAddDevBpf(3, true, 2, 0x0800, "/prog"))
	require.NoError(t, u.FilterAddDevBpf(3, true, 9, 0x0800, "/prog"))
	require.NoError(t, u.FilterAddDevBpf(3, true, 3, 0x0800, "/prog"))
	// equal priority goes after the existing filter
	require.NoError(t, u.FilterAddDevBpf(3, true, 5, 0x0800, "/prog"))
	// other directions and interfaces do not affect placement
	require.NoError(t, u.FilterAddDevBpf(3, false, 1, 0x86dd, "/prog"))
	require.NoError(t, u.FilterAddDevBpf(4, true, 1, 0x86dd, "/prog"))

	require.Equal(t, []string{
		"tail",
		"if3/true/1",
		"tail",
		"if3/true/1",
		"if3/true/3",
		"tail",
		"tail",
	}, before)
}

func TestUtils_AttachFailureLeavesNoFilter(t *testing.T) {
	u := newTestUtils(nil)
	u.loadProgram = func(string) (*ebpf.Program, error) { return nil, nil }
	u.attach = func(int, bool, *ebpf.Program, io.Closer) (io.Closer, error) {
		return nil, errors.New("EOPNOTSUPP")
	}

	require.Error(t, u.FilterAddDevBpf(1, true, 1, 0x86dd, "/prog"))
	require.Empty(t, u.Filters())
}

func TestFilter_String(t *testing.T) {
	require.Equal(t, "if3/ingress/prio1/proto0x86dd", Filter{Ifindex: 3, Ingress: true, Prio: 1, Proto: 0x86dd}.String())
	require.Equal(t, "if2/egress/prio0/proto0x0800", Filter{Ifindex: 2, Proto: 0x0800}.String())
}

func TestRegister(t *testing.T) {
	const class = "com/android/networkstack/tethering/util/TcUtils"

	rt := host.NewRuntime(zap.NewNop().Sugar(), host.WithClass(class,
		host.Declare("isEthernet", func(string) (bool, error) { return false, nil }),
		host.Declare("tcFilterAddDevBpf", func(int, bool, uint16, uint16, string) error { return nil }),
		host.Declare("tcFilterDelDev", func(int, bool, uint16, uint16) error { return nil }),
	))

	env, err := rt.GetEnv(host.Version1_6)
	require.NoError(t, err)

	require.GreaterOrEqual(t, Register(env, class), 0)
	require.Len(t, rt.Methods(class), len(Natives))

	del, ok := rt.Method(class, "tcFilterDelDev")
	require.True(t, ok)

	fn := del.Fn.(func(int, bool, uint16, uint16) error)
	require.ErrorIs(t, fn(99, true, 1, 1), ErrFilterNotFound)
}
