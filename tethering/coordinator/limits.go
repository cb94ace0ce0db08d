package coordinator

import (
	"fmt"
)

// SetDataLimit sets the quota of upstream in bytes. Zero stops forwarding
// and QuotaUnlimited disables the limit. The quota counts traffic from now
// on, so an upstream already in use gets its current usage added.
func (c *Coordinator) SetDataLimit(upstream uint32, quota uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.quotas[upstream] = quota
	delete(c.limitReached, upstream)

	if c.upstreams[upstream] == 0 {
		return nil
	}

	return c.writeLimit(upstream, quota)
}

// RemoveDataLimit reverts upstream to the default quota.
func (c *Coordinator) RemoveDataLimit(upstream uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.quotas, upstream)
	delete(c.limitReached, upstream)

	if c.upstreams[upstream] == 0 {
		return nil
	}

	return c.writeLimit(upstream, c.quotaFor(upstream))
}

// DataLimit returns the quota applied to upstream.
func (c *Coordinator) DataLimit(upstream uint32) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.quotaFor(upstream)
}

func (c *Coordinator) writeLimit(upstream uint32, quota uint64) error {
	live, err := c.maps.Stats.GetValue(upstream)
	if err != nil {
		return fmt.Errorf("failed to read stats for ifindex %d: %w", upstream, err)
	}

	limit := addSaturating(quota, live.Bytes())

	if err := c.maps.Limit.InsertOrReplaceEntry(upstream, limit); err != nil {
		return fmt.Errorf("failed to write limit for ifindex %d: %w", upstream, err)
	}

	c.logger.Infow("set data limit", "ifindex", upstream, "quota", quota, "limit", limit)

	return nil
}

func addSaturating(a, b uint64) uint64 {
	if a > QuotaUnlimited-b {
		return QuotaUnlimited
	}

	return a + b
}
