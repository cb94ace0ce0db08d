package coordinator

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
)

type ipv6RuleDump struct {
	Upstream   uint32 `json:"upstream"`
	Downstream uint32 `json:"downstream"`
	Match      string `json:"match"`
	SrcMac     string `json:"src_mac"`
	DstMac     string `json:"dst_mac"`
	Mtu        uint16 `json:"mtu"`
}

type ipv4RuleDump struct {
	Proto      uint8  `json:"proto"`
	Upstream   uint32 `json:"upstream"`
	Downstream uint32 `json:"downstream"`
	Private    string `json:"private"`
	Public     string `json:"public"`
	Remote     string `json:"remote"`
	Mtu        uint16 `json:"mtu"`
}

type statsDump struct {
	Ifindex   uint32 `json:"ifindex"`
	Limit     uint64 `json:"limit"`
	RxPackets uint64 `json:"rx_packets"`
	RxBytes   uint64 `json:"rx_bytes"`
	RxErrors  uint64 `json:"rx_errors"`
	TxPackets uint64 `json:"tx_packets"`
	TxBytes   uint64 `json:"tx_bytes"`
	TxErrors  uint64 `json:"tx_errors"`
}

type dump struct {
	Ipv6Downstream []ipv6RuleDump    `json:"ipv6_downstream"`
	Ipv6Upstream   []ipv6RuleDump    `json:"ipv6_upstream"`
	Ipv4           []ipv4RuleDump    `json:"ipv4"`
	Stats          []statsDump       `json:"stats"`
	ErrorCounters  map[string]uint32 `json:"error_counters"`
}

// Dump writes the installed rules, per upstream stats and error counters to
// w as JSON.
func (c *Coordinator) Dump(w io.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := dump{
		Ipv6Downstream: []ipv6RuleDump{},
		Ipv6Upstream:   []ipv6RuleDump{},
		Ipv4:           []ipv4RuleDump{},
		Stats:          []statsDump{},
	}

	for _, r := range c.ipv6Downstream {
		d.Ipv6Downstream = append(d.Ipv6Downstream, ipv6RuleDump{
			Upstream:   r.UpstreamIfindex,
			Downstream: r.DownstreamIfindex,
			Match:      r.Address.String(),
			SrcMac:     r.SrcMac.String(),
			DstMac:     r.DstMac.String(),
			Mtu:        mtu(r.Mtu),
		})
	}

	for _, r := range c.ipv6Upstream {
		d.Ipv6Upstream = append(d.Ipv6Upstream, ipv6RuleDump{
			Upstream:   r.UpstreamIfindex,
			Downstream: r.DownstreamIfindex,
			Match:      r.SourcePrefix.String(),
			SrcMac:     r.OutSrcMac.String(),
			DstMac:     r.OutDstMac.String(),
			Mtu:        mtu(r.Mtu),
		})
	}

	for _, r := range c.ipv4 {
		d.Ipv4 = append(d.Ipv4, ipv4RuleDump{
			Proto:      r.Proto,
			Upstream:   r.UpstreamIfindex,
			Downstream: r.DownstreamIfindex,
			Private:    r.Private.String(),
			Public:     r.Public.String(),
			Remote:     r.Remote.String(),
			Mtu:        mtu(r.Mtu),
		})
	}

	sort.Slice(d.Ipv6Downstream, func(i, j int) bool { return d.Ipv6Downstream[i].Match < d.Ipv6Downstream[j].Match })
	sort.Slice(d.Ipv6Upstream, func(i, j int) bool { return d.Ipv6Upstream[i].Match < d.Ipv6Upstream[j].Match })
	sort.Slice(d.Ipv4, func(i, j int) bool { return d.Ipv4[i].Private+d.Ipv4[i].Remote < d.Ipv4[j].Private+d.Ipv4[j].Remote })

	totals, err := c.totals()
	if err != nil {
		return err
	}

	for ifindex, s := range totals {
		limit := QuotaUnlimited
		if c.upstreams[ifindex] > 0 {
			if l, err := c.maps.Limit.GetValue(ifindex); err == nil {
				limit = l
			}
		}

		d.Stats = append(d.Stats, statsDump{
			Ifindex:   ifindex,
			Limit:     limit,
			RxPackets: s.RxPackets,
			RxBytes:   s.RxBytes,
			RxErrors:  s.RxErrors,
			TxPackets: s.TxPackets,
			TxBytes:   s.TxBytes,
			TxErrors:  s.TxErrors,
		})
	}

	sort.Slice(d.Stats, func(i, j int) bool { return d.Stats[i].Ifindex < d.Stats[j].Ifindex })

	d.ErrorCounters, err = c.ErrorCounters()
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("failed to encode dump: %w", err)
	}

	return nil
}
