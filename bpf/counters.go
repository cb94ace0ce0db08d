package bpf

// ErrorCounterNames lists the kernel programs' error counters in the order of
// their index in the error map.
var ErrorCounterNames = []string{
	"INVALID_IPV4_VERSION",
	"INVALID_IPV6_VERSION",
	"LOW_TTL",
	"INVALID_TCP_HEADER",
	"TCP_CONTROL_PACKET",
	"NON_GLOBAL_SRC",
	"NON_GLOBAL_DST",
	"LOCAL_SRC_DST",
	"NO_STATS_ENTRY",
	"NO_LIMIT_ENTRY",
	"BELOW_IPV4_MTU",
	"BELOW_IPV6_MTU",
	"LIMIT_REACHED",
	"CHANGE_HEAD_FAILED",
	"TOO_SHORT",
	"HAS_IP_OPTIONS",
	"IS_IP_FRAG",
	"CHECKSUM",
	"NON_TCP_UDP",
	"NON_TCP",
	"SHORT_L4_HEADER",
	"SHORT_TCP_HEADER",
	"SHORT_UDP_HEADER",
	"UDP_CSUM_ZERO",
	"TRUNCATED_IPV4",
}
