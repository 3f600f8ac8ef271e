package nodestate

import (
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// live holds the number of live containers per state.
var live [numStates]atomic.Int64

// Enter records a container entering s.
func Enter(s State) {
	live[s].Add(1)
}

// Exit records a container leaving s. It panics if the counter would turn
// negative, which means a container left a state it never entered.
func Exit(s State) {
	for {
		cur := live[s].Load()
		if cur <= 0 {
			panic(fmt.Sprintf("nodestate: live counter for %s would become negative", s))
		}
		if live[s].CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// Move records a transition between two states.
func Move(from, to State) {
	if from == to {
		return
	}
	Enter(to)
	Exit(from)
}

// Count returns the number of live containers currently in s.
func Count(s State) int64 {
	return live[s].Load()
}

// Total returns the number of live containers over all states.
func Total() int64 {
	var n int64
	for s := Idle; s < numStates; s++ {
		n += live[s].Load()
	}
	return n
}

// Snapshot returns the per-state counts.
func Snapshot() map[State]int64 {
	out := make(map[State]int64, numStates)
	for s := Idle; s < numStates; s++ {
		out[s] = live[s].Load()
	}
	return out
}

type collector struct {
	desc *prometheus.Desc
}

// Collector exposes the live counters as a gauge labelled by state.
func Collector() prometheus.Collector {
	return &collector{
		desc: prometheus.NewDesc(
			"nodeflow_node_containers",
			"Number of live node containers per internal state.",
			[]string{"state"}, nil,
		),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	for s := Idle; s < numStates; s++ {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(live[s].Load()), s.String())
	}
}
