// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sampling

// Direction of network traffic.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// NetInterfaceSummary is the host-wide packet, drop and bit rate in one
// direction. All rates are per second.
type NetInterfaceSummary struct {
	Direction     Direction `json:"direction"`
	PacketRate4   float64   `json:"packet_rate4"`
	DropRate4     float64   `json:"drop_rate4"`
	PacketRate6   float64   `json:"packet_rate6"`
	DropRate6     float64   `json:"drop_rate6"`
	BitsPerSecond float64   `json:"bits_per_second"`
}

// NetworkMetrics is the result published for DomainNetwork.
type NetworkMetrics struct {
	In  NetInterfaceSummary `json:"in"`
	Out NetInterfaceSummary `json:"out"`
}

// NetworkCounters groups the three aggregate counter sets the network
// calculators read.
type NetworkCounters struct {
	IPv4   Counters
	IPv6   Counters
	Device Counters
}

func networkCountersOf(s *CounterSnapshot) NetworkCounters {
	return NetworkCounters{
		IPv4:   s.counters(KeyIPv4),
		IPv6:   s.counters(KeyIPv6),
		Device: s.counters(KeyDevice),
	}
}

func init() {
	Register(DomainNetwork, func(Config) (Calculator, error) {
		return networkCalculator{}, nil
	})
}

type networkCalculator struct{}

func (networkCalculator) Domain() Domain { return DomainNetwork }

func (networkCalculator) Calculate(pair SnapshotPair) (any, bool) {
	endMillis, startMillis := pair.EndMillis(), pair.StartMillis()
	end, start := networkCountersOf(pair.Current), networkCountersOf(pair.Previous)

	in, ok := CalculateInNetworkMetrics(endMillis, startMillis, end, start)
	if !ok {
		return nil, false
	}
	out, ok := CalculateOutNetworkMetrics(endMillis, startMillis, end, start)
	if !ok {
		return nil, false
	}
	return NetworkMetrics{In: in, Out: out}, true
}

// CalculateInNetworkMetrics derives receive-side rates. Drops are packets
// received by the IP layer but not delivered to a transport protocol.
func CalculateInNetworkMetrics(endMillis, startMillis int64, end, start NetworkCounters) (NetInterfaceSummary, bool) {
	secs, ok := windowSeconds(endMillis, startMillis)
	if !ok {
		return NetInterfaceSummary{}, false
	}

	recv4 := delta(end.IPv4, start.IPv4, CounterInReceives)
	deliv4 := delta(end.IPv4, start.IPv4, CounterInDelivers)
	recv6 := delta(end.IPv6, start.IPv6, CounterIp6InReceives)
	deliv6 := delta(end.IPv6, start.IPv6, CounterIp6InDelivers)
	bytes := delta(end.Device, start.Device, CounterDevInBytes)

	return NetInterfaceSummary{
		Direction:     DirectionIn,
		PacketRate4:   recv4 / secs,
		DropRate4:     (recv4 - deliv4) / secs,
		PacketRate6:   recv6 / secs,
		DropRate6:     (recv6 - deliv6) / secs,
		BitsPerSecond: 8 * bytes / secs,
	}, true
}

// CalculateOutNetworkMetrics derives transmit-side rates. Drops are
// discarded packets plus packets with no route.
func CalculateOutNetworkMetrics(endMillis, startMillis int64, end, start NetworkCounters) (NetInterfaceSummary, bool) {
	secs, ok := windowSeconds(endMillis, startMillis)
	if !ok {
		return NetInterfaceSummary{}, false
	}

	req4 := delta(end.IPv4, start.IPv4, CounterOutRequests)
	drop4 := delta(end.IPv4, start.IPv4, CounterOutDiscards) + delta(end.IPv4, start.IPv4, CounterOutNoRoutes)
	req6 := delta(end.IPv6, start.IPv6, CounterIp6OutRequests)
	drop6 := delta(end.IPv6, start.IPv6, CounterIp6OutDiscards) + delta(end.IPv6, start.IPv6, CounterIp6OutNoRoutes)
	bytes := delta(end.Device, start.Device, CounterDevOutBytes)

	return NetInterfaceSummary{
		Direction:     DirectionOut,
		PacketRate4:   req4 / secs,
		DropRate4:     drop4 / secs,
		PacketRate6:   req6 / secs,
		DropRate6:     drop6 / secs,
		BitsPerSecond: 8 * bytes / secs,
	}, true
}
