package frontend

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/tcassar-diss/tetheroffload/bpf"
	"github.com/tcassar-diss/tetheroffload/bpf/tc"
	"github.com/tcassar-diss/tetheroffload/host"
	"github.com/tcassar-diss/tetheroffload/onload"
	"golang.org/x/sys/unix"
)

var ErrMissingNative = errors.New("native method not registered")

// lookupNative returns the implementation registered for className.name as
// a T.
func lookupNative[T any](rt *host.Runtime, className, name string) (T, error) {
	var zero T

	m, ok := rt.Method(className, name)
	if !ok {
		return zero, fmt.Errorf("%w: %s.%s", ErrMissingNative, className, name)
	}

	fn, ok := m.Fn.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s.%s has type %s", ErrMissingNative, className, name, m.Signature())
	}

	return fn, nil
}

type isEthernetFn func(iface string) (bool, error)

// attachment is one program to attach to a downstream.
type attachment struct {
	ifindex int
	ingress bool
	prio    uint16
	proto   uint16
	path    string
}

// planAttachments resolves the configured downstreams into the programs to
// attach, picking the ingress program from the link type where none is set.
func planAttachments(
	cfg *Config,
	byName func(string) (*net.Interface, error),
	isEthernet isEthernetFn,
) ([]attachment, error) {
	var out []attachment

	for _, d := range cfg.Downstreams {
		ifi, err := byName(d.Iface)
		if err != nil {
			return nil, fmt.Errorf("failed to find downstream %s: %w", d.Iface, err)
		}

		ingress := d.IngressProg
		if ingress == "" {
			ether, err := isEthernet(d.Iface)
			if err != nil {
				return nil, fmt.Errorf("failed to get link type of %s: %w", d.Iface, err)
			}

			ingress = bpf.ProgUpstream6RawIP
			if ether {
				ingress = bpf.ProgUpstream6Ether
			}
		}

		prio, proto := filterFor(ingress)
		out = append(out, attachment{
			ifindex: ifi.Index,
			ingress: true,
			prio:    prio,
			proto:   proto,
			path:    bpf.ProgramPath(cfg.BPF.PinDir, ingress),
		})

		if d.EgressProg == "" {
			continue
		}

		prio, proto = filterFor(d.EgressProg)
		out = append(out, attachment{
			ifindex: ifi.Index,
			ingress: false,
			prio:    prio,
			proto:   proto,
			path:    bpf.ProgramPath(cfg.BPF.PinDir, d.EgressProg),
		})
	}

	return out, nil
}

// filterFor returns the filter priority and protocol for a program by its
// address family.
func filterFor(prog string) (uint16, uint16) {
	switch {
	case strings.Contains(prog, "6_"):
		return tc.PrioTether6, unix.ETH_P_IPV6
	case strings.Contains(prog, "4_"):
		return tc.PrioTether4, unix.ETH_P_IP
	default:
		return tc.PrioTether6, unix.ETH_P_ALL
	}
}

// attachDownstreams attaches the configured programs through the TcUtils
// table registered at load.
func attachDownstreams(rt *host.Runtime, cfg *Config, byName func(string) (*net.Interface, error)) error {
	isEthernet, err := lookupNative[func(string) (bool, error)](rt, onload.TcUtilsClass, "isEthernet")
	if err != nil {
		return err
	}

	add, err := lookupNative[func(int, bool, uint16, uint16, string) error](rt, onload.TcUtilsClass, "tcFilterAddDevBpf")
	if err != nil {
		return err
	}

	plan, err := planAttachments(cfg, byName, isEthernet)
	if err != nil {
		return err
	}

	for _, a := range plan {
		if err := add(a.ifindex, a.ingress, a.prio, a.proto, a.path); err != nil {
			return err
		}
	}

	return nil
}

// resolveLimits maps the configured per interface limits to ifindexes.
func resolveLimits(cfg *Config, byName func(string) (*net.Interface, error)) (map[uint32]uint64, error) {
	out := make(map[uint32]uint64, len(cfg.Coordinator.Limits))

	for _, l := range cfg.Coordinator.Limits {
		ifi, err := byName(l.Iface)
		if err != nil {
			return nil, fmt.Errorf("failed to find upstream %s: %w", l.Iface, err)
		}

		out[uint32(ifi.Index)] = l.Bytes
	}

	return out, nil
}
