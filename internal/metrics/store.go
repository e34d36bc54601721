package metrics

import "sync/atomic"

// Store maintains process-lifetime counters for the engine loop. Counters
// only ever increase; the engine logs a snapshot at debug level each cycle.
type Store struct {
	cycles           atomic.Uint64
	records          atomic.Uint64
	probeFailures    atomic.Uint64
	deliveryFailures atomic.Uint64
	rotations        atomic.Uint64
}

// NewStore constructs a Store with zeroed counters.
func NewStore() *Store {
	return &Store{}
}

func (s *Store) IncCycles()           { s.cycles.Add(1) }
func (s *Store) IncRecords()          { s.records.Add(1) }
func (s *Store) IncProbeFailures()    { s.probeFailures.Add(1) }
func (s *Store) IncDeliveryFailures() { s.deliveryFailures.Add(1) }
func (s *Store) IncRotations()        { s.rotations.Add(1) }

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Cycles           uint64
	Records          uint64
	ProbeFailures    uint64
	DeliveryFailures uint64
	Rotations        uint64
}

func (s *Store) Snapshot() Snapshot {
	return Snapshot{
		Cycles:           s.cycles.Load(),
		Records:          s.records.Load(),
		ProbeFailures:    s.probeFailures.Load(),
		DeliveryFailures: s.deliveryFailures.Load(),
		Rotations:        s.rotations.Load(),
	}
}
