package systems

import (
	"aldea.world/internal/sim/engine"
	"aldea.world/internal/sim/state"
)

type ResourcesConfig struct {
	// GatherRange is how close a reserving agent must be to collect.
	GatherRange float64
	// Nutrition converts one unit of an edible kind into hunger points.
	Nutrition float64
	// EdibleKinds are consumed on the spot; everything else lands in the
	// shared material stockpile.
	EdibleKinds []string
	// ReservationTTL is how many ticks a booked reservation survives before
	// the reservation system frees it.
	ReservationTTL uint64
}

func (c ResourcesConfig) withDefaults() ResourcesConfig {
	if c.GatherRange <= 0 {
		c.GatherRange = 30
	}
	if c.Nutrition <= 0 {
		c.Nutrition = 2
	}
	if len(c.EdibleKinds) == 0 {
		c.EdibleKinds = []string{"berries"}
	}
	if c.ReservationTTL == 0 {
		c.ReservationTTL = 25
	}
	return c
}

// Resources owns the gather pipeline. Inbound "resource.gather" events are
// booked into reservations at flush time; each Update regenerates nodes and
// settles reservations whose agent reached the node: the node loses the
// reserved amount, the agent eats it or the stockpile absorbs it.
type Resources struct {
	cfg    ResourcesConfig
	bus    *engine.Bus
	world  *state.World
	edible map[string]bool
}

// NewResources subscribes to gather events on construction; the subscription
// lives as long as the bus. The world handle stays valid across restores
// because the runner rebuilds state in place.
func NewResources(cfg ResourcesConfig, bus *engine.Bus, w *state.World) *Resources {
	cfg = cfg.withDefaults()
	edible := make(map[string]bool, len(cfg.EdibleKinds))
	for _, k := range cfg.EdibleKinds {
		edible[k] = true
	}
	s := &Resources{cfg: cfg, bus: bus, world: w, edible: edible}
	bus.On(EventResourceGather, s.bookGather)
	return s
}

func (s *Resources) Name() string { return "resources" }

// bookGather turns one gather request into a reservation. Requests against
// unknown, depleted or already held nodes are dropped, as are requests from
// dead or unknown agents; the sender learns the outcome by watching for the
// gathered event. Runs on the loop goroutine during flush, so booking lands
// before the tick's snapshot is taken.
func (s *Resources) bookGather(ev engine.Event) {
	req, ok := ev.Payload.(engine.GatherCommand)
	if !ok {
		return
	}
	agent, ok := s.world.Agents.Get(req.AgentID)
	if !ok || agent.Dead {
		return
	}
	node, ok := s.world.Resources.Get(req.NodeID)
	if !ok || node.Depleted() {
		return
	}
	if _, held := s.world.Reservations[req.NodeID]; held {
		return
	}
	s.world.Reservations[req.NodeID] = &state.Reservation{
		ResourceID:  req.NodeID,
		AgentID:     req.AgentID,
		Amount:      req.Amount,
		ExpiresTick: ev.Tick + s.cfg.ReservationTTL,
	}
	// Route the agent to the node; settling happens once it is in range.
	target := node.Pos
	agent.Target = &target
}

func (s *Resources) Update(w *state.World, dt float64) error {
	for _, n := range w.Resources.All() {
		if n.Regen > 0 && n.Amount < n.Capacity {
			n.Amount = min(n.Capacity, n.Amount+n.Regen*dt)
		}
	}

	for _, nodeID := range reservationIDs(w) {
		rv := w.Reservations[nodeID]
		node, ok := w.Resources.Get(nodeID)
		if !ok {
			delete(w.Reservations, nodeID)
			continue
		}
		agent, ok := w.Agents.Get(rv.AgentID)
		if !ok || agent.Dead {
			// The reservation system frees these on its next pass.
			continue
		}
		if agent.Pos.DistanceTo(node.Pos) > s.cfg.GatherRange {
			continue
		}

		take := min(rv.Amount, node.Amount)
		delete(w.Reservations, nodeID)
		if take <= 0 {
			continue
		}
		node.Amount -= take
		if s.edible[node.Kind] {
			agent.Hunger = min(100, agent.Hunger+take*s.cfg.Nutrition)
		} else {
			w.Materials[node.Kind] += take
		}
		s.bus.Emit(engine.Event{Type: EventResourceGathered, Payload: ResourceGathered{
			NodeID:  nodeID,
			AgentID: agent.ID,
			Kind:    node.Kind,
			Amount:  take,
		}})
		if node.Depleted() {
			s.bus.Emit(engine.Event{Type: EventResourceDepleted, Payload: ResourceDepleted{
				NodeID: nodeID,
				Kind:   node.Kind,
			}})
		}
	}
	return nil
}
