// Package qos describes the delivery profile a client is created with.
package qos

import "fmt"

type History int

const (
	KeepLast History = iota
	KeepAll
)

type Reliability int

const (
	Reliable Reliability = iota
	BestEffort
)

type Durability int

const (
	Volatile Durability = iota
	TransientLocal
)

// Profile is attached to a client at creation. It is descriptive: none of
// its fields change how requests are sent or how many may be in flight.
type Profile struct {
	History     History
	Depth       int
	Reliability Reliability
	Durability  Durability
}

// Services is the default profile for service clients: keep the last 10,
// reliable, volatile.
func Services() Profile {
	return Profile{
		History:     KeepLast,
		Depth:       10,
		Reliability: Reliable,
		Durability:  Volatile,
	}
}

func (p Profile) String() string {
	history := "keep_last"
	if p.History == KeepAll {
		history = "keep_all"
	}
	reliability := "reliable"
	if p.Reliability == BestEffort {
		reliability = "best_effort"
	}
	durability := "volatile"
	if p.Durability == TransientLocal {
		durability = "transient_local"
	}
	return fmt.Sprintf("%s(%d)/%s/%s", history, p.Depth, reliability, durability)
}
