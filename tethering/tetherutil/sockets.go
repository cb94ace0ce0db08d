// Package tetherutil prepares the sockets used by the tethering neighbour
// and router advertisement handlers.
package tetherutil

import (
	"errors"
	"fmt"

	"github.com/cilium/ebpf"
	"golang.org/x/sys/unix"
)

var (
	ErrBadFd      = errors.New("invalid socket file descriptor")
	ErrBadIfindex = errors.New("invalid interface index")
)

// ICMPv6 message types.
const (
	RouterSolicit   uint8 = 133
	RouterAdvert    uint8 = 134
	NeighborSolicit uint8 = 135
	NeighborAdvert  uint8 = 136
)

// hop limit required on neighbour discovery messages
const ndHopLimit = 255

// SetupNaSocket restricts an AF_PACKET socket bound to ETH_P_IPV6 to ICMPv6
// neighbor advertisements.
func SetupNaSocket(fd int) error {
	return attachTypeFilter(fd, NeighborAdvert)
}

// SetupNsSocket restricts an AF_PACKET socket bound to ETH_P_IPV6 to ICMPv6
// neighbor solicitations.
func SetupNsSocket(fd int) error {
	return attachTypeFilter(fd, NeighborSolicit)
}

// SetupRaSocket configures an ICMPv6 raw socket for sending router
// advertisements on ifindex and receiving router solicitations.
func SetupRaSocket(fd, ifindex int) error {
	if fd < 0 {
		return fmt.Errorf("%w: %d", ErrBadFd, fd)
	}

	if ifindex <= 0 {
		return fmt.Errorf("%w: %d", ErrBadIfindex, ifindex)
	}

	filter := ICMPv6PassFilter(RouterSolicit)
	if err := unix.SetsockoptICMPv6Filter(fd, unix.SOL_ICMPV6, unix.ICMPV6_FILTER, &filter); err != nil {
		return fmt.Errorf("failed to set ICMPV6_FILTER: %w", err)
	}

	opts := []struct {
		name  string
		opt   int
		value int
	}{
		{name: "IPV6_MULTICAST_HOPS", opt: unix.IPV6_MULTICAST_HOPS, value: ndHopLimit},
		{name: "IPV6_UNICAST_HOPS", opt: unix.IPV6_UNICAST_HOPS, value: ndHopLimit},
		{name: "IPV6_MULTICAST_IF", opt: unix.IPV6_MULTICAST_IF, value: ifindex},
	}

	for _, o := range opts {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, o.opt, o.value); err != nil {
			return fmt.Errorf("failed to set %s: %w", o.name, err)
		}
	}

	return nil
}

// ICMPv6PassFilter returns a kernel ICMPv6 type filter blocking every message
// type except types.
func ICMPv6PassFilter(types ...uint8) unix.ICMPv6Filter {
	var f unix.ICMPv6Filter

	for i := range f.Data {
		f.Data[i] = 0xffffffff
	}

	for _, t := range types {
		f.Data[t>>5] &^= 1 << (t & 31)
	}

	return f
}

func attachTypeFilter(fd int, icmpType uint8) error {
	if fd < 0 {
		return fmt.Errorf("%w: %d", ErrBadFd, fd)
	}

	prog, err := ebpf.NewProgram(&ebpf.ProgramSpec{
		Name:         "tether_icmp6",
		Type:         ebpf.SocketFilter,
		Instructions: ICMPv6TypeFilter(icmpType),
		License:      "Apache-2.0",
	})
	if err != nil {
		return fmt.Errorf("failed to load icmpv6 type %d filter: %w", icmpType, err)
	}
	// the socket keeps its own reference
	defer prog.Close()

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ATTACH_BPF, prog.FD()); err != nil {
		return fmt.Errorf("failed to attach icmpv6 type %d filter: %w", icmpType, err)
	}

	return nil
}
