// Package loadbalance picks which discovered instance receives a request.
//
//   - RoundRobin:      equal-capacity instances
//   - WeightedRandom:  instances of different capacity
//   - ConsistentHash:  sticky routing of one caller to one instance
package loadbalance

import (
	"errors"
	"fmt"
	"strings"

	"svcrpc/registry"
)

var ErrNoInstances = errors.New("loadbalance: no instances available")

// Balancer is called before every request; implementations must be
// goroutine-safe.
type Balancer interface {
	Pick(instances []registry.ServiceInstance) (*registry.ServiceInstance, error)
	Name() string
}

// New builds a balancer by configuration name. key is only used by
// consistent_hash, which routes every call carrying the same key to the same
// instance.
func New(name, key string) (Balancer, error) {
	switch strings.ToLower(name) {
	case "", "round_robin", "roundrobin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random", "weightedrandom":
		return &WeightedRandomBalancer{}, nil
	case "consistent_hash", "consistenthash":
		return NewConsistentHashBalancer(key), nil
	default:
		return nil, fmt.Errorf("loadbalance: unknown strategy %q", name)
	}
}

func weightOf(inst registry.ServiceInstance) int {
	if inst.Weight <= 0 {
		return 1
	}
	return inst.Weight
}
