package loadbalancer

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"
)

// ConsistentHash assigns keys to instances by highest random weight. Adding
// or removing an instance only moves the keys that scored highest on it.
type ConsistentHash struct {
	instances []string
}

func NewConsistentHash(instances []string) *ConsistentHash {
	sorted := append([]string(nil), instances...)
	sort.Strings(sorted)
	return &ConsistentHash{instances: sorted}
}

// GetInstance returns the instance owning key, or "" when there are none.
func (ch *ConsistentHash) GetInstance(key string) string {
	var (
		best      string
		bestScore uint64
	)
	for i, inst := range ch.instances {
		s := score(key, inst)
		if i == 0 || s > bestScore {
			best, bestScore = inst, s
		}
	}
	return best
}

// Rank orders every instance by preference for key.
func (ch *ConsistentHash) Rank(key string) []string {
	out := append([]string(nil), ch.instances...)
	scores := make(map[string]uint64, len(out))
	for _, inst := range out {
		scores[inst] = score(key, inst)
	}
	sort.SliceStable(out, func(i, j int) bool { return scores[out[i]] > scores[out[j]] })
	return out
}

func (ch *ConsistentHash) Len() int {
	return len(ch.instances)
}

func score(key, instance string) uint64 {
	h := sha256.New()
	h.Write([]byte(instance))
	h.Write([]byte{0})
	h.Write([]byte(key))
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}
