package bpf

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// Downstream6Key selects an IPv6 downstream forwarding rule: traffic arriving
// on the upstream Iif for the tethered client Neigh6.
type Downstream6Key struct {
	Iif    uint32
	DstMac MacAddr
	_      [2]byte
	Neigh6 [16]byte
}

// Upstream6Key selects an IPv6 upstream forwarding rule: traffic arriving on
// the downstream Iif from a client within Src64.
type Upstream6Key struct {
	Iif    uint32
	DstMac MacAddr
	_      [2]byte
	Src64  [8]byte
}

// Tether6Value describes how a matched IPv6 packet is rewritten and where it
// is sent.
type Tether6Value struct {
	Oif       uint32
	EthDstMac MacAddr
	EthSrcMac MacAddr
	EthProto  uint16 // network byte order
	Pmtu      uint16
}

// Tether4Key selects an IPv4 forwarding rule by its five-tuple.
type Tether4Key struct {
	Iif     uint32
	DstMac  MacAddr
	L4Proto uint8
	_       uint8
	Src4    [4]byte
	Dst4    [4]byte
	SrcPort uint16 // network byte order
	DstPort uint16 // network byte order
}

// Tether4Value describes the NAT rewrite applied to a matched IPv4 packet.
type Tether4Value struct {
	Oif       uint32
	EthDstMac MacAddr
	EthSrcMac MacAddr
	EthProto  uint16 // network byte order
	Pmtu      uint16
	Src46     [16]byte
	Dst46     [16]byte
	SrcPort   uint16 // network byte order
	DstPort   uint16 // network byte order
	LastUsed  uint64
}

// Addr6 converts an IPv6 address into its map representation.
func Addr6(a netip.Addr) [16]byte {
	return a.As16()
}

// Addr4 converts an IPv4 address into its map representation.
func Addr4(a netip.Addr) [4]byte {
	return a.Unmap().As4()
}

// Prefix64 converts a /64 prefix into its map representation.
func Prefix64(p netip.Prefix) ([8]byte, error) {
	var out [8]byte

	if !p.Addr().Is6() || p.Bits() != 64 {
		return out, fmt.Errorf("%w: %s is not an ipv6 /64", ErrInvalidPrefix, p)
	}

	a := p.Masked().Addr().As16()
	copy(out[:], a[:8])

	return out, nil
}

// Htons converts a 16 bit value to network byte order. Map values are
// encoded in host byte order, so the result is the value whose host
// encoding holds v's big endian bytes.
func Htons(v uint16) uint16 {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)

	return binary.NativeEndian.Uint16(b[:])
}
