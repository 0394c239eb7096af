package eigrp

import (
	"fmt"
	"math"
)

// Distance is a composite metric. Smaller is better.
type Distance uint32

const Infinite Distance = math.MaxUint32

func (d Distance) String() string {
	if d == Infinite {
		return "inf"
	}

	return fmt.Sprintf("%d", uint32(d))
}

func (d Distance) Add(o Distance) Distance {
	return satAdd(d, o)
}

// KValues are the K1 through K6 weighting coefficients.
type KValues [6]uint8

var (
	DefaultKValues = KValues{1, 0, 1, 0, 0, 0}

	// A Hello carrying goodbyeKValues tells the neighbor we're going away.
	goodbyeKValues = KValues{255, 255, 255, 255, 255, 255}
)

func (k KValues) K1() uint8 { return k[0] }
func (k KValues) K2() uint8 { return k[1] }
func (k KValues) K3() uint8 { return k[2] }
func (k KValues) K4() uint8 { return k[3] }
func (k KValues) K5() uint8 { return k[4] }
func (k KValues) K6() uint8 { return k[5] }

func (k KValues) Equal(o KValues) bool {
	return k == o
}

func (k KValues) isGoodbye() bool {
	return k == goodbyeKValues
}

func (k KValues) String() string {
	return fmt.Sprintf("K1=%d K2=%d K3=%d K4=%d K5=%d K6=%d", k[0], k[1], k[2], k[3], k[4], k[5])
}

const (
	unreachableDelay = math.MaxUint32

	// 256 * 10^7, so that a scaled bandwidth of 256 is 10 Gbps.
	bandwidthScale = 2_560_000_000
	maxMTU         = 1<<24 - 1
)

// Metrics is the per-link or per-route metric vector carried in route TLVs.
// Bandwidth and Delay are stored in their scaled wire form.
type Metrics struct {
	Delay       uint32
	Bandwidth   uint32
	MTU         uint32 // 24 bits on the wire
	HopCount    uint8
	Reliability uint8
	Load        uint8
	Tag         uint8
	Flags       uint8
}

// Route TLV flags.
const (
	RouteFlagSourceWithdraw   uint8 = 0x01
	RouteFlagCandidateDefault uint8 = 0x02
	RouteFlagActive           uint8 = 0x04
)

var unreachableMetrics = Metrics{Delay: unreachableDelay}

func (m Metrics) Unreachable() bool {
	return m.Delay == unreachableDelay
}

// ScaledBandwidth converts a bandwidth in kbps to its wire form.
func ScaledBandwidth(kbps uint32) uint32 {
	if kbps == 0 {
		return math.MaxUint32
	}

	return bandwidthScale / kbps
}

// ScaledDelay converts a delay in tens of microseconds to its wire form.
func ScaledDelay(tensOfMicroseconds uint32) uint32 {
	d := uint64(tensOfMicroseconds) * 256
	if d >= unreachableDelay {
		return unreachableDelay - 1
	}

	return uint32(d)
}

// LinkMetrics builds the metric vector describing a directly attached link.
func LinkMetrics(bandwidthKbps, delay uint32, reliability, load uint8, mtu uint32) Metrics {
	if mtu > maxMTU {
		mtu = maxMTU
	}

	return Metrics{
		Delay:       ScaledDelay(delay),
		Bandwidth:   ScaledBandwidth(bandwidthKbps),
		MTU:         mtu,
		HopCount:    0,
		Reliability: reliability,
		Load:        load,
	}
}

// Combine returns the metric vector of a route reported with metrics m and
// reached over a link with metrics link.
func Combine(m, link Metrics) Metrics {
	if m.Unreachable() || link.Unreachable() {
		u := unreachableMetrics
		u.Tag = m.Tag
		u.Flags = m.Flags
		return u
	}

	total := m
	total.Delay = satAdd(m.Delay, link.Delay)
	if total.Delay == unreachableDelay {
		total.Delay = unreachableDelay - 1
	}
	total.Bandwidth = max(m.Bandwidth, link.Bandwidth)
	total.MTU = min(m.MTU, link.MTU)
	total.HopCount = satAdd(m.HopCount, 1)
	total.Reliability = min(m.Reliability, link.Reliability)
	total.Load = max(m.Load, link.Load)

	return total
}

// Distance computes the composite distance of m:
//
//	K1*bw + K2*bw/(256-load) + K3*delay
//
// multiplied by K5/(reliability+K4) when K5 is non-zero. Overflow and
// division by zero saturate to Infinite.
func (k KValues) Distance(m Metrics) Distance {
	if m.Unreachable() {
		return Infinite
	}

	bw := uint64(m.Bandwidth)
	delay := uint64(m.Delay)

	var sum uint64
	if k.K1() != 0 {
		sum += uint64(k.K1()) * bw
	}

	if k.K2() != 0 {
		part, ok := divide(uint64(k.K2())*bw, 256-uint64(m.Load))
		if !ok {
			return Infinite
		}
		sum += part
	}

	if k.K3() != 0 {
		sum += uint64(k.K3()) * delay
	}

	if k.K5() != 0 {
		scaled, ok := divide(sum*uint64(k.K5()), uint64(m.Reliability)+uint64(k.K4()))
		if !ok {
			return Infinite
		}
		sum = scaled
	}

	if sum >= uint64(Infinite) {
		return Infinite
	}

	return Distance(sum)
}

func divide(a, b uint64) (uint64, bool) {
	if b == 0 {
		return 0, false
	}

	return a / b, true
}
