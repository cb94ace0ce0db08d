package coordinator

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/tcassar-diss/tetheroffload/bpf"
	"golang.org/x/sys/unix"
)

var ErrInvalidRule = errors.New("invalid offload rule")

// DefaultMTU is used for rules that do not carry a path MTU.
const DefaultMTU = 1500

// Ipv6DownstreamRule forwards traffic for a tethered client arriving on the
// upstream to the downstream interface.
type Ipv6DownstreamRule struct {
	UpstreamIfindex   uint32
	DownstreamIfindex uint32
	// UpstreamMac is the upstream interface's address; zero for rawip
	// upstreams.
	UpstreamMac bpf.MacAddr
	Address     netip.Addr
	// SrcMac is the downstream interface's address, DstMac the client's.
	SrcMac bpf.MacAddr
	DstMac bpf.MacAddr
	Mtu    uint16
}

func (r Ipv6DownstreamRule) key() (bpf.Downstream6Key, error) {
	if !r.Address.Is6() || r.Address.Is4In6() {
		return bpf.Downstream6Key{}, fmt.Errorf("%w: %s is not an ipv6 address", ErrInvalidRule, r.Address)
	}

	if r.UpstreamIfindex == 0 || r.DownstreamIfindex == 0 {
		return bpf.Downstream6Key{}, fmt.Errorf("%w: missing interface index", ErrInvalidRule)
	}

	return bpf.Downstream6Key{
		Iif:    r.UpstreamIfindex,
		DstMac: r.UpstreamMac,
		Neigh6: bpf.Addr6(r.Address),
	}, nil
}

func (r Ipv6DownstreamRule) value() bpf.Tether6Value {
	return bpf.Tether6Value{
		Oif:       r.DownstreamIfindex,
		EthDstMac: r.DstMac,
		EthSrcMac: r.SrcMac,
		EthProto:  bpf.Htons(unix.ETH_P_IPV6),
		Pmtu:      mtu(r.Mtu),
	}
}

// Ipv6UpstreamRule forwards traffic from a downstream /64 to the upstream.
type Ipv6UpstreamRule struct {
	DownstreamIfindex uint32
	UpstreamIfindex   uint32
	// InDstMac is the downstream interface's address.
	InDstMac     bpf.MacAddr
	SourcePrefix netip.Prefix
	// OutSrcMac and OutDstMac are the upstream addresses; zero for rawip
	// upstreams.
	OutSrcMac bpf.MacAddr
	OutDstMac bpf.MacAddr
	Mtu       uint16
}

func (r Ipv6UpstreamRule) key() (bpf.Upstream6Key, error) {
	prefix, err := bpf.Prefix64(r.SourcePrefix)
	if err != nil {
		return bpf.Upstream6Key{}, fmt.Errorf("%w: %w", ErrInvalidRule, err)
	}

	if r.UpstreamIfindex == 0 || r.DownstreamIfindex == 0 {
		return bpf.Upstream6Key{}, fmt.Errorf("%w: missing interface index", ErrInvalidRule)
	}

	return bpf.Upstream6Key{
		Iif:    r.DownstreamIfindex,
		DstMac: r.InDstMac,
		Src64:  prefix,
	}, nil
}

func (r Ipv6UpstreamRule) value() bpf.Tether6Value {
	return bpf.Tether6Value{
		Oif:       r.UpstreamIfindex,
		EthDstMac: r.OutDstMac,
		EthSrcMac: r.OutSrcMac,
		EthProto:  bpf.Htons(unix.ETH_P_IPV6),
		Pmtu:      mtu(r.Mtu),
	}
}

// Ipv4Rule is a NATed TCP or UDP flow offloaded in both directions.
type Ipv4Rule struct {
	Proto             uint8
	UpstreamIfindex   uint32
	DownstreamIfindex uint32

	// Private is the client's address, Public the translated address on
	// the upstream and Remote the peer.
	Private netip.AddrPort
	Public  netip.AddrPort
	Remote  netip.AddrPort

	DownstreamMac bpf.MacAddr
	ClientMac     bpf.MacAddr
	// UpstreamMac and GatewayMac are zero for rawip upstreams.
	UpstreamMac bpf.MacAddr
	GatewayMac  bpf.MacAddr
	Mtu         uint16
}

func (r Ipv4Rule) validate() error {
	if r.Proto != unix.IPPROTO_TCP && r.Proto != unix.IPPROTO_UDP {
		return fmt.Errorf("%w: protocol %d is not tcp or udp", ErrInvalidRule, r.Proto)
	}

	for _, ap := range []netip.AddrPort{r.Private, r.Public, r.Remote} {
		if !ap.IsValid() || !ap.Addr().Unmap().Is4() {
			return fmt.Errorf("%w: %s is not an ipv4 address and port", ErrInvalidRule, ap)
		}
	}

	if r.UpstreamIfindex == 0 || r.DownstreamIfindex == 0 {
		return fmt.Errorf("%w: missing interface index", ErrInvalidRule)
	}

	return nil
}

// upstream returns the entry matching client traffic leaving through the
// upstream.
func (r Ipv4Rule) upstream() (bpf.Tether4Key, bpf.Tether4Value) {
	k := bpf.Tether4Key{
		Iif:     r.DownstreamIfindex,
		DstMac:  r.DownstreamMac,
		L4Proto: r.Proto,
		Src4:    bpf.Addr4(r.Private.Addr()),
		Dst4:    bpf.Addr4(r.Remote.Addr()),
		SrcPort: bpf.Htons(r.Private.Port()),
		DstPort: bpf.Htons(r.Remote.Port()),
	}

	v := bpf.Tether4Value{
		Oif:       r.UpstreamIfindex,
		EthDstMac: r.GatewayMac,
		EthSrcMac: r.UpstreamMac,
		EthProto:  bpf.Htons(unix.ETH_P_IP),
		Pmtu:      mtu(r.Mtu),
		Src46:     r.Public.Addr().As16(),
		Dst46:     r.Remote.Addr().As16(),
		SrcPort:   bpf.Htons(r.Public.Port()),
		DstPort:   bpf.Htons(r.Remote.Port()),
	}

	return k, v
}

// downstream returns the entry matching reply traffic arriving on the
// upstream.
func (r Ipv4Rule) downstream() (bpf.Tether4Key, bpf.Tether4Value) {
	k := bpf.Tether4Key{
		Iif:     r.UpstreamIfindex,
		DstMac:  r.UpstreamMac,
		L4Proto: r.Proto,
		Src4:    bpf.Addr4(r.Remote.Addr()),
		Dst4:    bpf.Addr4(r.Public.Addr()),
		SrcPort: bpf.Htons(r.Remote.Port()),
		DstPort: bpf.Htons(r.Public.Port()),
	}

	v := bpf.Tether4Value{
		Oif:       r.DownstreamIfindex,
		EthDstMac: r.ClientMac,
		EthSrcMac: r.DownstreamMac,
		EthProto:  bpf.Htons(unix.ETH_P_IP),
		Pmtu:      mtu(r.Mtu),
		Src46:     r.Remote.Addr().As16(),
		Dst46:     r.Private.Addr().As16(),
		SrcPort:   bpf.Htons(r.Remote.Port()),
		DstPort:   bpf.Htons(r.Private.Port()),
	}

	return k, v
}

func mtu(m uint16) uint16 {
	if m == 0 {
		return DefaultMTU
	}

	return m
}
