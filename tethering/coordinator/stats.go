package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/tcassar-diss/tetheroffload/bpf"
)

// TetherOffloadGetStats returns the offloaded traffic per upstream ifindex
// since the coordinator started.
func (c *Coordinator) TetherOffloadGetStats() (map[uint32]bpf.StatsValue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.totals()
}

func (c *Coordinator) totals() (map[uint32]bpf.StatsValue, error) {
	out := make(map[uint32]bpf.StatsValue, len(c.accumulated))
	for ifindex, s := range c.accumulated {
		out[ifindex] = s
	}

	err := c.maps.Stats.ForEach(func(ifindex uint32, s bpf.StatsValue) error {
		out[ifindex] = out[ifindex].Add(s)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read stats map: %w", err)
	}

	return out, nil
}

// Poll runs one update cycle: it reports traffic since the previous poll
// and warns when an upstream has used up its quota.
func (c *Coordinator) Poll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	totals, err := c.totals()
	if err != nil {
		return err
	}

	for ifindex, total := range totals {
		delta := total.Sub(c.lastReported[ifindex])
		c.lastReported[ifindex] = total

		if delta.IsZero() {
			continue
		}

		c.logger.Debugw("offloaded traffic",
			"ifindex", ifindex,
			"rx_bytes", delta.RxBytes,
			"rx_packets", delta.RxPackets,
			"tx_bytes", delta.TxBytes,
			"tx_packets", delta.TxPackets,
		)
	}

	for upstream := range c.upstreams {
		if c.limitReached[upstream] {
			continue
		}

		limit, err := c.maps.Limit.GetValue(upstream)
		if err != nil {
			return fmt.Errorf("failed to read limit for ifindex %d: %w", upstream, err)
		}

		live, err := c.maps.Stats.GetValue(upstream)
		if err != nil {
			return fmt.Errorf("failed to read stats for ifindex %d: %w", upstream, err)
		}

		if limit != QuotaUnlimited && live.Bytes() >= limit {
			c.limitReached[upstream] = true
			c.logger.Warnw("data limit reached", "ifindex", upstream, "limit", limit)
		}
	}

	return nil
}

// Run polls every PollInterval until ctx is cancelled. Poll failures are
// logged and do not stop the loop.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.Poll(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warnw("failed to poll offload stats", "err", err)
			}
		}
	}
}

// LimitReached reports whether upstream has used up its quota as of the last
// poll.
func (c *Coordinator) LimitReached(upstream uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.limitReached[upstream]
}
