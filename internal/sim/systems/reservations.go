package systems

import (
	"sort"

	"aldea.world/internal/sim/engine"
	"aldea.world/internal/sim/state"
)

// Reservations releases gather holds that timed out or whose agent no
// longer exists. It runs before the resource system so a node freed this
// tick can be reserved again next tick, never consumed twice.
type Reservations struct {
	bus  *engine.Bus
	tick func() uint64
}

func NewReservations(bus *engine.Bus, tick func() uint64) *Reservations {
	return &Reservations{bus: bus, tick: tick}
}

func (s *Reservations) Name() string { return "reservations" }

func (s *Reservations) Update(w *state.World, _ float64) error {
	tick := s.tick() + 1
	for _, nodeID := range reservationIDs(w) {
		rv := w.Reservations[nodeID]
		_, alive := w.Agents.Get(rv.AgentID)
		if alive && rv.ExpiresTick > tick {
			continue
		}
		delete(w.Reservations, nodeID)
		s.bus.Emit(engine.Event{Type: EventReservationExpired, Payload: ReservationExpired{
			NodeID:  nodeID,
			AgentID: rv.AgentID,
		}})
	}
	return nil
}

// reservationIDs returns the reserved node ids in lexicographic order so
// every pass over the map is deterministic.
func reservationIDs(w *state.World) []string {
	ids := make([]string, 0, len(w.Reservations))
	for id := range w.Reservations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
