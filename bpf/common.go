package bpf

import (
	"errors"
	"fmt"
	"net"
	"path"
)

var (
	ErrInvalidMAC    = errors.New("invalid hardware address")
	ErrInvalidPrefix = errors.New("invalid ipv6 prefix")
)

// PinDir is where the tethering programs and maps are pinned by default.
const PinDir = "/sys/fs/bpf/tethering"

// Pinned map names.
const (
	Downstream6MapName = "map_offload_tether_downstream6_map"
	Upstream6MapName   = "map_offload_tether_upstream6_map"
	Downstream4MapName = "map_offload_tether_downstream4_map"
	Upstream4MapName   = "map_offload_tether_upstream4_map"
	StatsMapName       = "map_offload_tether_stats_map"
	LimitMapName       = "map_offload_tether_limit_map"
	DevMapName         = "map_offload_tether_dev_map"
	ErrorMapName       = "map_offload_tether_error_map"
)

// Pinned schedcls program names.
const (
	ProgDownstream6Ether = "prog_offload_schedcls_tether_downstream6_ether"
	ProgDownstream6RawIP = "prog_offload_schedcls_tether_downstream6_rawip"
	ProgUpstream6Ether   = "prog_offload_schedcls_tether_upstream6_ether"
	ProgUpstream6RawIP   = "prog_offload_schedcls_tether_upstream6_rawip"
	ProgDownstream4Ether = "prog_offload_schedcls_tether_downstream4_ether"
	ProgDownstream4RawIP = "prog_offload_schedcls_tether_downstream4_rawip"
	ProgUpstream4Ether   = "prog_offload_schedcls_tether_upstream4_ether"
	ProgUpstream4RawIP   = "prog_offload_schedcls_tether_upstream4_rawip"
)

// MapPath returns the pin path of the named map below dir.
func MapPath(dir, name string) string {
	return path.Join(dir, name)
}

// ProgramPath returns the pin path of the named program below dir.
func ProgramPath(dir, name string) string {
	return path.Join(dir, name)
}

// MacAddr is an ethernet hardware address laid out the way the kernel
// programs expect it.
type MacAddr [6]byte

// ParseMAC parses a 48 bit hardware address.
func ParseMAC(s string) (MacAddr, error) {
	var m MacAddr

	hw, err := net.ParseMAC(s)
	if err != nil {
		return m, fmt.Errorf("%w: %w", ErrInvalidMAC, err)
	}

	if len(hw) != len(m) {
		return m, fmt.Errorf("%w: %s is not a 48 bit address", ErrInvalidMAC, s)
	}

	copy(m[:], hw)

	return m, nil
}

func (m MacAddr) String() string {
	return net.HardwareAddr(m[:]).String()
}
