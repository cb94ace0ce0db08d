package bpf

// StatsValue holds the per-upstream counters maintained by the kernel
// programs.
type StatsValue struct {
	RxPackets uint64
	RxBytes   uint64
	RxErrors  uint64
	TxPackets uint64
	TxBytes   uint64
	TxErrors  uint64
}

// Add returns the element-wise sum of s and o.
func (s StatsValue) Add(o StatsValue) StatsValue {
	return StatsValue{
		RxPackets: s.RxPackets + o.RxPackets,
		RxBytes:   s.RxBytes + o.RxBytes,
		RxErrors:  s.RxErrors + o.RxErrors,
		TxPackets: s.TxPackets + o.TxPackets,
		TxBytes:   s.TxBytes + o.TxBytes,
		TxErrors:  s.TxErrors + o.TxErrors,
	}
}

// Sub returns s - o, clamping each counter at zero. Counters go backwards
// when an entry is recreated.
func (s StatsValue) Sub(o StatsValue) StatsValue {
	return StatsValue{
		RxPackets: sub(s.RxPackets, o.RxPackets),
		RxBytes:   sub(s.RxBytes, o.RxBytes),
		RxErrors:  sub(s.RxErrors, o.RxErrors),
		TxPackets: sub(s.TxPackets, o.TxPackets),
		TxBytes:   sub(s.TxBytes, o.TxBytes),
		TxErrors:  sub(s.TxErrors, o.TxErrors),
	}
}

// IsZero reports whether every counter is zero.
func (s StatsValue) IsZero() bool {
	return s == StatsValue{}
}

// Bytes is the total traffic in both directions, as used for data limits.
func (s StatsValue) Bytes() uint64 {
	return s.RxBytes + s.TxBytes
}

func sub(a, b uint64) uint64 {
	if a < b {
		return 0
	}

	return a - b
}
