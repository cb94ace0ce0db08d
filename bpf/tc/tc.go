// Package tc attaches the tethering schedcls programs to network interfaces.
//
// Programs are attached with TCX links, which do not need a clsact qdisc.
// Filters keep the (ifindex, direction, priority, protocol) identity used by
// classic tc filters so callers can add and delete them by that tuple.
package tc

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/jsimonetti/rtnetlink/v2"
	"github.com/tcassar-diss/tetheroffload/bpf/bpfutils"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

var (
	ErrUnknownHardware = errors.New("unknown hardware address type")
	ErrInvalidIfindex  = errors.New("invalid interface index")
	ErrFilterExists    = errors.New("filter already attached")
	ErrFilterNotFound  = errors.New("filter not attached")
)

// arphrdRawIP is ARPHRD_RAWIP, used by cellular upstreams.
const arphrdRawIP = 519

// Filter identifies an attached program. Filters sharing an interface and
// direction run in ascending Prio order; filters with equal Prio run in the
// order they were added.
type Filter struct {
	Ifindex int
	Ingress bool
	Prio    uint16
	Proto   uint16
}

func (f Filter) String() string {
	dir := "egress"
	if f.Ingress {
		dir = "ingress"
	}

	return fmt.Sprintf("if%d/%s/prio%d/proto0x%04x", f.Ifindex, dir, f.Prio, f.Proto)
}

type linkGetter interface {
	Get(index uint32) (rtnetlink.LinkMessage, error)
}

// Utils manages tc program attachments. The zero value is ready to use.
type Utils struct {
	logger *zap.SugaredLogger

	// overridable for tests
	links       func() (linkGetter, io.Closer, error)
	ifaceByName func(string) (*net.Interface, error)
	loadProgram func(path string) (*ebpf.Program, error)
	// attach places prog before the link in before, or last when before
	// is nil.
	attach func(ifindex int, ingress bool, prog *ebpf.Program, before io.Closer) (io.Closer, error)

	mu      sync.Mutex
	filters map[Filter]io.Closer
}

// New returns Utils logging to logger.
func New(logger *zap.SugaredLogger) *Utils {
	return &Utils{logger: logger}
}

func (u *Utils) log() *zap.SugaredLogger {
	if u.logger == nil {
		return zap.NewNop().Sugar()
	}

	return u.logger
}

// IsEthernet reports whether iface carries ethernet framing. Interfaces
// without link-layer headers report false. Other link types are an error.
func (u *Utils) IsEthernet(iface string) (bool, error) {
	byName := net.InterfaceByName
	if u.ifaceByName != nil {
		byName = u.ifaceByName
	}

	ifi, err := byName(iface)
	if err != nil {
		return false, fmt.Errorf("failed to find interface %s: %w", iface, err)
	}

	dial := dialLinks
	if u.links != nil {
		dial = u.links
	}

	links, closer, err := dial()
	if err != nil {
		return false, fmt.Errorf("failed to dial rtnetlink: %w", err)
	}
	defer closer.Close()

	msg, err := links.Get(uint32(ifi.Index))
	if err != nil {
		return false, fmt.Errorf("failed to get link %s: %w", iface, err)
	}

	switch msg.Type {
	case unix.ARPHRD_ETHER:
		return true, nil
	case unix.ARPHRD_NONE, unix.ARPHRD_PPP, arphrdRawIP:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %s has type %d", ErrUnknownHardware, iface, msg.Type)
	}
}

// FilterAddDevBpf attaches the program pinned at progPath to ifindex.
func (u *Utils) FilterAddDevBpf(ifindex int, ingress bool, prio, proto uint16, progPath string) error {
	if ifindex <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidIfindex, ifindex)
	}

	f := Filter{Ifindex: ifindex, Ingress: ingress, Prio: prio, Proto: proto}

	u.mu.Lock()
	defer u.mu.Unlock()

	if _, ok := u.filters[f]; ok {
		return fmt.Errorf("%w: %s", ErrFilterExists, f)
	}

	load := bpfutils.LoadPinnedProgram
	if u.loadProgram != nil {
		load = u.loadProgram
	}

	prog, err := load(progPath)
	if err != nil {
		return fmt.Errorf("failed to load program %s: %w", progPath, err)
	}
	// the link holds its own reference to the program
	if prog != nil {
		defer prog.Close()
	}

	attach := attachTCX
	if u.attach != nil {
		attach = u.attach
	}

	l, err := attach(ifindex, ingress, prog, u.successor(f))
	if err != nil {
		return fmt.Errorf("failed to attach %s to %s: %w", progPath, f, err)
	}

	if u.filters == nil {
		u.filters = make(map[Filter]io.Closer)
	}

	u.filters[f] = l

	u.log().Infow("attached tc program", "filter", f.String(), "prog", progPath)

	return nil
}

// successor returns the link of the first filter that must run after f, or
// nil if f goes last. Callers hold u.mu.
func (u *Utils) successor(f Filter) io.Closer {
	var (
		next  io.Closer
		found bool
		best  Filter
	)

	for other, l := range u.filters {
		if other.Ifindex != f.Ifindex || other.Ingress != f.Ingress || other.Prio <= f.Prio {
			continue
		}

		if !found || other.Prio < best.Prio || (other.Prio == best.Prio && other.Proto < best.Proto) {
			next, best, found = l, other, true
		}
	}

	return next
}

// FilterDelDev detaches the program attached with the given identity.
func (u *Utils) FilterDelDev(ifindex int, ingress bool, prio, proto uint16) error {
	f := Filter{Ifindex: ifindex, Ingress: ingress, Prio: prio, Proto: proto}

	u.mu.Lock()
	defer u.mu.Unlock()

	l, ok := u.filters[f]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFilterNotFound, f)
	}

	delete(u.filters, f)

	if err := l.Close(); err != nil {
		return fmt.Errorf("failed to detach %s: %w", f, err)
	}

	u.log().Infow("detached tc program", "filter", f.String())

	return nil
}

// Filters returns the attached filters ordered by interface, direction and
// priority.
func (u *Utils) Filters() []Filter {
	u.mu.Lock()
	defer u.mu.Unlock()

	out := make([]Filter, 0, len(u.filters))
	for f := range u.filters {
		out = append(out, f)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Ifindex != b.Ifindex {
			return a.Ifindex < b.Ifindex
		}

		if a.Ingress != b.Ingress {
			return a.Ingress
		}

		if a.Prio != b.Prio {
			return a.Prio < b.Prio
		}

		return a.Proto < b.Proto
	})

	return out
}

// Close detaches every filter.
func (u *Utils) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	var errs []error

	for f, l := range u.filters {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to detach %s: %w", f, err))
		}

		delete(u.filters, f)
	}

	return errors.Join(errs...)
}

func dialLinks() (linkGetter, io.Closer, error) {
	conn, err := rtnetlink.Dial(nil)
	if err != nil {
		return nil, nil, err
	}

	return conn.Link, conn, nil
}

func attachTCX(ifindex int, ingress bool, prog *ebpf.Program, before io.Closer) (io.Closer, error) {
	attach := ebpf.AttachTCXEgress
	if ingress {
		attach = ebpf.AttachTCXIngress
	}

	anchor := link.Tail()
	if l, ok := before.(link.Link); ok {
		anchor = link.BeforeLink(l)
	}

	l, err := link.AttachTCX(link.TCXOptions{
		Interface: ifindex,
		Program:   prog,
		Attach:    attach,
		Anchor:    anchor,
	})
	if err != nil {
		return nil, err
	}

	return l, nil
}

// Filter priorities used for the tethering programs.
const (
	PrioTether6 uint16 = 1
	PrioTether4 uint16 = 2
)
