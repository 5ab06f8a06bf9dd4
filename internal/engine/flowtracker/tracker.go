package flowtracker

import (
	"Go2NetSentinel/internal/model"
	"encoding/binary"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const defaultShardCount = 256

// Shard is a part of a sharded map, containing its own map and a mutex.
type Shard struct {
	flows map[model.FlowKey]*model.FlowStats
	mu    sync.RWMutex
}

// Tracker maintains per-flow aggregate state and turns packets into feature vectors.
//
// The pipeline has a single consumer that calls Analyze, but the table is also
// read by the snapshotters and the HTTP API and pruned by the idle sweeper, so
// every shard is guarded by its own lock.
type Tracker struct {
	shards      []*Shard
	shardCount  uint32
	maxPerShard int
	evicted     atomic.Uint64
}

// New creates a tracker with numShards shards. maxFlows bounds the table size;
// zero means unbounded. The bound is enforced per shard as
// ceil(maxFlows/numShards), so the effective table bound reported by Capacity
// is maxFlows rounded up to a multiple of numShards.
func New(numShards uint32, maxFlows int) *Tracker {
	if numShards == 0 || numShards >= 32768 {
		numShards = defaultShardCount
	}
	t := &Tracker{
		shards:     make([]*Shard, numShards),
		shardCount: numShards,
	}
	if maxFlows > 0 {
		t.maxPerShard = (maxFlows + int(numShards) - 1) / int(numShards)
	}
	for i := range t.shards {
		t.shards[i] = &Shard{flows: make(map[model.FlowKey]*model.FlowStats)}
	}
	return t
}

// Analyze folds the packet into its flow and returns the packet's feature vector.
// Packets without both a network layer and a TCP layer are skipped and yield false.
func (t *Tracker) Analyze(pkt *model.PacketInfo) (model.FeatureVector, bool) {
	if pkt == nil || !pkt.HasNetworkLayer() || pkt.TCP == nil {
		return model.FeatureVector{}, false
	}

	key := pkt.FlowKey()
	shard := t.getShard(key)

	shard.mu.Lock()
	stats, ok := shard.flows[key]
	if !ok {
		if t.maxPerShard > 0 && len(shard.flows) >= t.maxPerShard {
			t.evictOldestLocked(shard)
		}
		stats = &model.FlowStats{}
		shard.flows[key] = stats
	}
	// A negative length from a malformed source counts as zero bytes so the
	// byte count never decreases.
	length := max(pkt.Length, 0)
	stats.PacketCount++
	stats.ByteCount += uint64(length)
	if stats.FirstSeen.IsZero() {
		stats.FirstSeen = pkt.Timestamp
	}
	// A late packet never moves LastSeen backwards, so LastSeen >= FirstSeen holds.
	if pkt.Timestamp.After(stats.LastSeen) {
		stats.LastSeen = pkt.Timestamp
	}
	current := *stats
	shard.mu.Unlock()

	duration := current.Duration()
	return model.FeatureVector{
		Key:          key,
		PacketSize:   length,
		FlowDuration: duration,
		PacketRate:   float64(current.PacketCount) / duration,
		ByteRate:     float64(current.ByteCount) / duration,
		Flags:        pkt.TCP.Flags,
		WindowSize:   pkt.TCP.Window,
		PacketCount:  current.PacketCount,
	}, true
}

// evictOldestLocked removes the least recently seen flow of the shard.
func (t *Tracker) evictOldestLocked(shard *Shard) {
	var oldestKey model.FlowKey
	var oldest time.Time
	found := false
	for k, s := range shard.flows {
		if !found || s.LastSeen.Before(oldest) {
			oldestKey, oldest, found = k, s.LastSeen, true
		}
	}
	if found {
		delete(shard.flows, oldestKey)
		t.evicted.Add(1)
	}
}

// SweepIdle removes flows whose last packet is older than idleTimeout relative to now.
// It returns the number of flows removed.
func (t *Tracker) SweepIdle(now time.Time, idleTimeout time.Duration) int {
	removed := 0
	for _, shard := range t.shards {
		shard.mu.Lock()
		for k, s := range shard.flows {
			if now.Sub(s.LastSeen) > idleTimeout {
				delete(shard.flows, k)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	t.evicted.Add(uint64(removed))
	return removed
}

// Lookup returns a copy of the stats of a flow.
func (t *Tracker) Lookup(key model.FlowKey) (model.FlowStats, bool) {
	shard := t.getShard(key)
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	if s, ok := shard.flows[key]; ok {
		return *s, true
	}
	return model.FlowStats{}, false
}

// Capacity returns the effective bound on the number of tracked flows, or zero
// when the table is unbounded.
func (t *Tracker) Capacity() int {
	return t.maxPerShard * int(t.shardCount)
}

// Len returns the number of tracked flows.
func (t *Tracker) Len() int {
	count := 0
	for _, shard := range t.shards {
		shard.mu.RLock()
		count += len(shard.flows)
		shard.mu.RUnlock()
	}
	return count
}

// Evicted returns the number of flows removed by sweeps and by the capacity bound.
func (t *Tracker) Evicted() uint64 {
	return t.evicted.Load()
}

// Snapshot returns a deep copy of the flow table.
// Concurrent updates are safe; each shard is copied under its read lock.
func (t *Tracker) Snapshot() model.FlowSnapshot {
	shards := make([][]model.Flow, t.shardCount)
	var wg sync.WaitGroup
	wg.Add(int(t.shardCount))

	for i := 0; i < int(t.shardCount); i++ {
		go func(i int) {
			defer wg.Done()
			shard := t.shards[i]
			shard.mu.RLock()
			flows := make([]model.Flow, 0, len(shard.flows))
			for k, s := range shard.flows {
				flows = append(flows, model.Flow{Key: k, Stats: *s})
			}
			shard.mu.RUnlock()
			shards[i] = flows
		}(i)
	}

	wg.Wait()
	return model.FlowSnapshot{TakenAt: time.Now(), Shards: shards}
}

// Top returns up to limit flows ordered by packet count, busiest first.
func (t *Tracker) Top(limit int) []model.Flow {
	var all []model.Flow
	for _, shard := range t.Snapshot().Shards {
		all = append(all, shard...)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Stats.PacketCount != all[j].Stats.PacketCount {
			return all[i].Stats.PacketCount > all[j].Stats.PacketCount
		}
		return all[i].Key.String() < all[j].Key.String()
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}

// Reset clears every flow.
func (t *Tracker) Reset() {
	for _, shard := range t.shards {
		shard.mu.Lock()
		shard.flows = make(map[model.FlowKey]*model.FlowStats)
		shard.mu.Unlock()
	}
}

// getShard returns the appropriate shard for a given key.
func (t *Tracker) getShard(key model.FlowKey) *Shard {
	var buf [36]byte
	src, dst := key.SrcIP.As16(), key.DstIP.As16()
	copy(buf[0:16], src[:])
	copy(buf[16:32], dst[:])
	binary.BigEndian.PutUint16(buf[32:34], key.SrcPort)
	binary.BigEndian.PutUint16(buf[34:36], key.DstPort)

	hasher := fnv.New32a()
	hasher.Write(buf[:])
	return t.shards[hasher.Sum32()%t.shardCount]
}
