package tetherutil

import (
	"github.com/cilium/ebpf/asm"
	"golang.org/x/sys/unix"
)

// Offsets into an ethernet frame carrying IPv6.
const (
	ethHeaderLen  = 14
	ipv6HeaderLen = 40
	ipv6NextHdr   = 6

	nextHdrOffset  = ethHeaderLen + ipv6NextHdr
	icmpTypeOffset = ethHeaderLen + ipv6HeaderLen
)

// ICMPv6TypeFilter builds a socket filter for ethernet frames that accepts
// ICMPv6 messages of icmpType without extension headers and drops
// everything else.
func ICMPv6TypeFilter(icmpType uint8) asm.Instructions {
	return asm.Instructions{
		// LoadAbs reads from the skb held in R6
		asm.Mov.Reg(asm.R6, asm.R1),
		asm.LoadAbs(nextHdrOffset, asm.Byte),
		asm.JNE.Imm(asm.R0, unix.IPPROTO_ICMPV6, "drop"),
		asm.LoadAbs(icmpTypeOffset, asm.Byte),
		asm.JNE.Imm(asm.R0, int32(icmpType), "drop"),
		// accept the whole packet
		asm.Mov.Imm(asm.R0, -1),
		asm.Return(),
		asm.Mov.Imm(asm.R0, 0).WithSymbol("drop"),
		asm.Return(),
	}
}
