// Package coordinator programs the tethering offload maps.
//
// Coordinator owns the forwarding rules written to the kernel, the per
// upstream accounting that goes with them (dev map, stats and limit entries),
// and the periodic polling of offloaded traffic statistics.
package coordinator

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/tcassar-diss/tetheroffload/bpf"
	"go.uber.org/zap"
)

// QuotaUnlimited disables the data limit on an upstream.
const QuotaUnlimited uint64 = math.MaxUint64

// DefaultPollInterval is used when Config.PollInterval is zero.
const DefaultPollInterval = 5 * time.Second

// Config configures a Coordinator.
type Config struct {
	PollInterval time.Duration
	// DefaultLimit is the quota in bytes applied to upstreams without a
	// limit of their own. Zero means unlimited.
	DefaultLimit uint64
	// Limits holds per upstream quotas keyed by ifindex.
	Limits map[uint32]uint64
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	logger *zap.SugaredLogger
	maps   *Maps
	cfg    Config

	mu             sync.Mutex
	ipv6Downstream map[bpf.Downstream6Key]Ipv6DownstreamRule
	ipv6Upstream   map[bpf.Upstream6Key]Ipv6UpstreamRule
	ipv4           map[bpf.Tether4Key]Ipv4Rule
	// upstreams counts the rules using each upstream ifindex.
	upstreams map[uint32]int
	quotas    map[uint32]uint64
	// accumulated holds stats of upstreams whose map entries were removed.
	accumulated  map[uint32]bpf.StatsValue
	lastReported map[uint32]bpf.StatsValue
	limitReached map[uint32]bool
}

// New returns a Coordinator writing to maps.
func New(logger *zap.SugaredLogger, maps *Maps, cfg Config) *Coordinator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	quotas := make(map[uint32]uint64, len(cfg.Limits))
	for ifindex, q := range cfg.Limits {
		quotas[ifindex] = q
	}

	return &Coordinator{
		logger:         logger,
		maps:           maps,
		cfg:            cfg,
		ipv6Downstream: make(map[bpf.Downstream6Key]Ipv6DownstreamRule),
		ipv6Upstream:   make(map[bpf.Upstream6Key]Ipv6UpstreamRule),
		ipv4:           make(map[bpf.Tether4Key]Ipv4Rule),
		upstreams:      make(map[uint32]int),
		quotas:         quotas,
		accumulated:    make(map[uint32]bpf.StatsValue),
		lastReported:   make(map[uint32]bpf.StatsValue),
		limitReached:   make(map[uint32]bool),
	}
}

// AddIPv6DownstreamRule installs or replaces a downstream rule.
func (c *Coordinator) AddIPv6DownstreamRule(r Ipv6DownstreamRule) error {
	k, err := r.key()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, replacing := c.ipv6Downstream[k]

	if !replacing {
		if err := c.acquireUpstream(r.UpstreamIfindex, r.DownstreamIfindex); err != nil {
			return err
		}
	}

	if err := c.maps.Downstream6.InsertOrReplaceEntry(k, r.value()); err != nil {
		if !replacing {
			c.releaseUpstream(r.UpstreamIfindex)
		}

		return fmt.Errorf("failed to write ipv6 downstream rule for %s: %w", r.Address, err)
	}

	c.ipv6Downstream[k] = r

	c.logger.Debugw("added ipv6 downstream rule",
		"upstream", r.UpstreamIfindex,
		"downstream", r.DownstreamIfindex,
		"address", r.Address,
		"mac", r.DstMac.String(),
	)

	return nil
}

// RemoveIPv6DownstreamRule deletes a downstream rule. Removing an unknown
// rule is not an error.
func (c *Coordinator) RemoveIPv6DownstreamRule(r Ipv6DownstreamRule) error {
	k, err := r.key()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.ipv6Downstream[k]
	if !ok {
		return nil
	}

	if _, err := c.maps.Downstream6.DeleteEntry(k); err != nil {
		return fmt.Errorf("failed to delete ipv6 downstream rule for %s: %w", r.Address, err)
	}

	delete(c.ipv6Downstream, k)
	c.releaseUpstream(existing.UpstreamIfindex)

	return nil
}

// AddIPv6UpstreamRule installs or replaces an upstream rule.
func (c *Coordinator) AddIPv6UpstreamRule(r Ipv6UpstreamRule) error {
	k, err := r.key()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, replacing := c.ipv6Upstream[k]
	sameUpstream := replacing && existing.UpstreamIfindex == r.UpstreamIfindex

	if !sameUpstream {
		if err := c.acquireUpstream(r.UpstreamIfindex, r.DownstreamIfindex); err != nil {
			return err
		}
	}

	if err := c.maps.Upstream6.InsertOrReplaceEntry(k, r.value()); err != nil {
		if !sameUpstream {
			c.releaseUpstream(r.UpstreamIfindex)
		}

		return fmt.Errorf("failed to write ipv6 upstream rule for %s: %w", r.SourcePrefix, err)
	}

	if replacing && !sameUpstream {
		c.releaseUpstream(existing.UpstreamIfindex)
	}

	c.ipv6Upstream[k] = r

	c.logger.Debugw("added ipv6 upstream rule",
		"upstream", r.UpstreamIfindex,
		"downstream", r.DownstreamIfindex,
		"prefix", r.SourcePrefix,
	)

	return nil
}

// RemoveIPv6UpstreamRule deletes an upstream rule. Removing an unknown rule
// is not an error.
func (c *Coordinator) RemoveIPv6UpstreamRule(r Ipv6UpstreamRule) error {
	k, err := r.key()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.ipv6Upstream[k]
	if !ok {
		return nil
	}

	if _, err := c.maps.Upstream6.DeleteEntry(k); err != nil {
		return fmt.Errorf("failed to delete ipv6 upstream rule for %s: %w", r.SourcePrefix, err)
	}

	delete(c.ipv6Upstream, k)
	c.releaseUpstream(existing.UpstreamIfindex)

	return nil
}

// AddIPv4Rule installs both directions of an IPv4 flow.
func (c *Coordinator) AddIPv4Rule(r Ipv4Rule) error {
	if err := r.validate(); err != nil {
		return err
	}

	upKey, upValue := r.upstream()
	downKey, downValue := r.downstream()

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, replacing := c.ipv4[upKey]
	sameUpstream := replacing && existing.UpstreamIfindex == r.UpstreamIfindex

	if !sameUpstream {
		if err := c.acquireUpstream(r.UpstreamIfindex, r.DownstreamIfindex); err != nil {
			return err
		}
	}

	if err := c.maps.Upstream4.InsertOrReplaceEntry(upKey, upValue); err != nil {
		if !sameUpstream {
			c.releaseUpstream(r.UpstreamIfindex)
		}

		return fmt.Errorf("failed to write ipv4 upstream rule: %w", err)
	}

	if err := c.maps.Downstream4.InsertOrReplaceEntry(downKey, downValue); err != nil {
		c.restoreIPv4Upstream(upKey, existing, replacing)

		if !sameUpstream {
			c.releaseUpstream(r.UpstreamIfindex)
		}

		return fmt.Errorf("failed to write ipv4 downstream rule: %w", err)
	}

	if replacing {
		// the reply direction is keyed on the upstream side and may move
		oldDownKey, _ := existing.downstream()
		if oldDownKey != downKey {
			if _, err := c.maps.Downstream4.DeleteEntry(oldDownKey); err != nil {
				c.logger.Warnw("failed to delete stale ipv4 downstream rule", "err", err)
			}
		}

		if !sameUpstream {
			c.releaseUpstream(existing.UpstreamIfindex)
		}
	}

	c.ipv4[upKey] = r

	c.logger.Debugw("added ipv4 rule",
		"proto", r.Proto,
		"private", r.Private,
		"public", r.Public,
		"remote", r.Remote,
	)

	return nil
}

// restoreIPv4Upstream puts back the upstream direction of the rule that was
// installed at upKey before a failed write.
func (c *Coordinator) restoreIPv4Upstream(upKey bpf.Tether4Key, previous Ipv4Rule, existed bool) {
	if !existed {
		if _, err := c.maps.Upstream4.DeleteEntry(upKey); err != nil {
			c.logger.Warnw("failed to roll back ipv4 upstream rule", "err", err)
		}

		return
	}

	_, v := previous.upstream()
	if err := c.maps.Upstream4.InsertOrReplaceEntry(upKey, v); err != nil {
		c.logger.Warnw("failed to restore ipv4 upstream rule", "err", err)
	}
}

// RemoveIPv4Rule deletes both directions of an IPv4 flow. Removing an
// unknown flow is not an error.
func (c *Coordinator) RemoveIPv4Rule(r Ipv4Rule) error {
	if err := r.validate(); err != nil {
		return err
	}

	upKey, _ := r.upstream()

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.ipv4[upKey]
	if !ok {
		return nil
	}

	downKey, _ := existing.downstream()

	if _, err := c.maps.Upstream4.DeleteEntry(upKey); err != nil {
		return fmt.Errorf("failed to delete ipv4 upstream rule: %w", err)
	}

	if _, err := c.maps.Downstream4.DeleteEntry(downKey); err != nil {
		return fmt.Errorf("failed to delete ipv4 downstream rule: %w", err)
	}

	delete(c.ipv4, upKey)
	c.releaseUpstream(existing.UpstreamIfindex)

	return nil
}

// RuleCount returns the number of installed rules.
func (c *Coordinator) RuleCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.ipv6Downstream) + len(c.ipv6Upstream) + len(c.ipv4)
}

// acquireUpstream takes a reference on upstream. The first reference sets
// up its dev, stats and limit entries.
func (c *Coordinator) acquireUpstream(upstream, downstream uint32) error {
	for _, ifindex := range []uint32{upstream, downstream} {
		if err := c.maps.Dev.InsertOrReplaceEntry(ifindex, ifindex); err != nil {
			return fmt.Errorf("failed to add ifindex %d to dev map: %w", ifindex, err)
		}
	}

	if c.upstreams[upstream] > 0 {
		c.upstreams[upstream]++
		return nil
	}

	if err := c.maps.Stats.InsertOrReplaceEntry(upstream, bpf.StatsValue{}); err != nil {
		return fmt.Errorf("failed to initialise stats for ifindex %d: %w", upstream, err)
	}

	if err := c.maps.Limit.InsertOrReplaceEntry(upstream, c.quotaFor(upstream)); err != nil {
		if _, delErr := c.maps.Stats.DeleteEntry(upstream); delErr != nil {
			c.logger.Warnw("failed to roll back stats entry", "ifindex", upstream, "err", delErr)
		}

		return fmt.Errorf("failed to initialise limit for ifindex %d: %w", upstream, err)
	}

	c.upstreams[upstream] = 1
	delete(c.limitReached, upstream)

	c.logger.Infow("upstream offload started", "ifindex", upstream)

	return nil
}

// releaseUpstream drops a reference on upstream. When the last one goes the
// final stats are folded into the accumulated totals and the stats and
// limit entries are removed.
func (c *Coordinator) releaseUpstream(upstream uint32) {
	c.upstreams[upstream]--
	if c.upstreams[upstream] > 0 {
		return
	}

	delete(c.upstreams, upstream)

	final, err := c.maps.Stats.GetValue(upstream)
	if err != nil {
		c.logger.Warnw("failed to read final upstream stats", "ifindex", upstream, "err", err)
	} else {
		c.accumulated[upstream] = c.accumulated[upstream].Add(final)
	}

	if _, err := c.maps.Stats.DeleteEntry(upstream); err != nil {
		c.logger.Warnw("failed to delete upstream stats", "ifindex", upstream, "err", err)
	}

	if _, err := c.maps.Limit.DeleteEntry(upstream); err != nil {
		c.logger.Warnw("failed to delete upstream limit", "ifindex", upstream, "err", err)
	}

	c.logger.Infow("upstream offload stopped",
		"ifindex", upstream,
		"rx_bytes", final.RxBytes,
		"tx_bytes", final.TxBytes,
	)
}

func (c *Coordinator) quotaFor(upstream uint32) uint64 {
	if q, ok := c.quotas[upstream]; ok {
		return q
	}

	if c.cfg.DefaultLimit == 0 {
		return QuotaUnlimited
	}

	return c.cfg.DefaultLimit
}
