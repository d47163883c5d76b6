package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"

	"svcrpc/registry"
)

const virtualNodes = 100

// ConsistentHashBalancer maps a fixed key (typically the calling node's name)
// onto a hash ring of the discovered instances, so the same caller keeps
// hitting the same server until the instance set changes.
//
// Each instance is placed on the ring as 100 virtual nodes hashed from
// "{addr}#{i}" to keep the distribution even.
//
//	Hash Ring:
//	                  0
//	                ╱   ╲
//	         B ●               ● A
//	           │    key ◆──►   │   (clockwise to nearest node → A)
//	         C ●               ● A'
//	                ╲   ╱
type ConsistentHashBalancer struct {
	key string

	mu        sync.Mutex
	signature string // instance set the ring was built from
	ring      []uint32
	nodes     map[uint32]int // hash → index into the instances slice
}

func NewConsistentHashBalancer(key string) *ConsistentHashBalancer {
	return &ConsistentHashBalancer{key: key}
}

// Pick hashes the balancer key and walks clockwise to the first virtual node.
// The ring is rebuilt only when the instance set changes.
func (b *ConsistentHashBalancer) Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if sig := signature(instances); sig != b.signature {
		b.build(instances)
		b.signature = sig
	}

	hash := crc32.ChecksumIEEE([]byte(b.key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}
	return &instances[b.nodes[b.ring[idx]]], nil
}

func (b *ConsistentHashBalancer) build(instances []registry.ServiceInstance) {
	b.ring = make([]uint32, 0, len(instances)*virtualNodes)
	b.nodes = make(map[uint32]int, len(instances)*virtualNodes)
	for i, inst := range instances {
		for v := 0; v < virtualNodes; v++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", inst.Addr, v)))
			b.ring = append(b.ring, hash)
			b.nodes[hash] = i
		}
	}
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

func signature(instances []registry.ServiceInstance) string {
	var sb strings.Builder
	for _, inst := range instances {
		sb.WriteString(inst.Addr)
		sb.WriteByte(',')
	}
	return sb.String()
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
