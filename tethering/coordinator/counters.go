package coordinator

import (
	"errors"
	"fmt"

	"github.com/tcassar-diss/tetheroffload/bpf"
	"github.com/tcassar-diss/tetheroffload/bpf/bpfmap"
)

// BpfCounterNames returns the error counter names in error map order.
func BpfCounterNames() []string {
	out := make([]string, len(bpf.ErrorCounterNames))
	copy(out, bpf.ErrorCounterNames)

	return out
}

// ErrorCounters returns the non-zero kernel error counters by name.
func (c *Coordinator) ErrorCounters() (map[string]uint32, error) {
	return readErrorCounters(c.maps.Errors)
}

func readErrorCounters(m *bpfmap.Map[uint32, uint32]) (map[string]uint32, error) {
	out := make(map[string]uint32)

	for i, name := range bpf.ErrorCounterNames {
		n, err := m.GetValue(uint32(i))
		if errors.Is(err, bpfmap.ErrKeyNotFound) {
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("failed to read counter %s: %w", name, err)
		}

		if n != 0 {
			out[name] = n
		}
	}

	return out, nil
}
