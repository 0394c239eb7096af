package eigrp

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type instanceMetrics struct {
	packetsIn         *prometheus.CounterVec
	packetsOut        *prometheus.CounterVec
	drops             *prometheus.CounterVec
	retransmits       *prometheus.CounterVec
	neighborChanges   *prometheus.CounterVec
	activeTransitions prometheus.Counter
	stuckInActive     prometheus.Counter
}

func newInstanceMetrics(reg prometheus.Registerer) *instanceMetrics {
	m := &instanceMetrics{
		packetsIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eigrp",
			Name:      "packets_received_total",
			Help:      "Packets received, by interface and opcode.",
		}, []string{"interface", "opcode"}),
		packetsOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eigrp",
			Name:      "packets_sent_total",
			Help:      "Packets sent, by interface and opcode.",
		}, []string{"interface", "opcode"}),
		drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eigrp",
			Name:      "packets_dropped_total",
			Help:      "Received packets that were dropped, by interface and reason.",
		}, []string{"interface", "reason"}),
		retransmits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eigrp",
			Name:      "retransmissions_total",
			Help:      "Reliable packets sent again, by interface.",
		}, []string{"interface"}),
		neighborChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eigrp",
			Name:      "neighbor_state_changes_total",
			Help:      "Neighbor state transitions, by interface and new state.",
		}, []string{"interface", "state"}),
		activeTransitions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eigrp",
			Name:      "active_transitions_total",
			Help:      "Diffusing computations started.",
		}),
		stuckInActive: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eigrp",
			Name:      "stuck_in_active_total",
			Help:      "Neighbors reset because they did not answer a query in time.",
		}),
	}

	if reg == nil {
		return m
	}

	m.packetsIn = register(reg, m.packetsIn)
	m.packetsOut = register(reg, m.packetsOut)
	m.drops = register(reg, m.drops)
	m.retransmits = register(reg, m.retransmits)
	m.neighborChanges = register(reg, m.neighborChanges)
	m.activeTransitions = register(reg, m.activeTransitions)
	m.stuckInActive = register(reg, m.stuckInActive)

	return m
}

// register registers c with reg. If an identical collector is already
// registered, that one is returned instead.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
