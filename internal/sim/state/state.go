// Package state holds the shared mutable world: entity profiles, material
// stockpiles and the in-world clock. The world is mutated only from the
// simulation loop goroutine; everything exported to other goroutines goes
// through Clone.
package state

import (
	"math"

	"aldea.world/internal/sim/registry"
)

type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{X: v.X - o.X, Y: v.Y - o.Y} }

func (v Vec2) Len() float64 { return math.Hypot(v.X, v.Y) }

func (v Vec2) DistanceTo(o Vec2) float64 { return v.Sub(o).Len() }

// Info carries immutable world parameters fixed at creation.
type Info struct {
	ID     string  `json:"id"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Seed   int64   `json:"seed"`
}

// Clock is the in-world calendar, distinct from the scheduler's tick
// counter. TimeOfDay wraps in [0,1); the first half of a day is daylight.
type Clock struct {
	Day       int     `json:"day"`
	TimeOfDay float64 `json:"time_of_day"`
}

func (c Clock) Daytime() bool { return c.TimeOfDay < 0.5 }

type Agent struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Pos  Vec2   `json:"pos"`

	Target *Vec2   `json:"target,omitempty"`
	Speed  float64 `json:"speed"`

	Hunger float64 `json:"hunger"`
	Energy float64 `json:"energy"`
	Health float64 `json:"health"`
	Age    float64 `json:"age"`

	Dead bool `json:"dead,omitempty"`

	// Tracks which needs already fired a critical notification so the
	// crossing is reported once, not every tick below the threshold.
	CriticalNeeds map[string]bool `json:"critical_needs,omitempty"`

	// Familiarity with other agents, by id. Grows through encounters.
	Familiarity map[string]float64 `json:"familiarity,omitempty"`
}

// NewAgent builds an agent with the standard starting profile: full needs,
// walking speed 40 units/s, no target.
func NewAgent(id, name string, pos Vec2) *Agent {
	return &Agent{
		ID:     id,
		Name:   name,
		Pos:    pos,
		Speed:  40,
		Hunger: 100,
		Energy: 100,
		Health: 100,
	}
}

type Animal struct {
	ID      string  `json:"id"`
	Species string  `json:"species"`
	Pos     Vec2    `json:"pos"`
	Heading float64 `json:"heading"`
	Speed   float64 `json:"speed"`
	Dead    bool    `json:"dead,omitempty"`

	// Fleeing flips when a predator scare starts so the flight is announced
	// once, not every tick it lasts.
	Fleeing bool `json:"fleeing,omitempty"`
}

type ResourceNode struct {
	ID       string  `json:"id"`
	Kind     string  `json:"kind"`
	Pos      Vec2    `json:"pos"`
	Amount   float64 `json:"amount"`
	Capacity float64 `json:"capacity"`
	Regen    float64 `json:"regen_per_s"`
}

func (n *ResourceNode) Depleted() bool { return n.Amount <= 0 }

// Reservation holds part of a resource node for one agent until it expires.
// At most one reservation exists per node.
type Reservation struct {
	ResourceID  string  `json:"resource_id"`
	AgentID     string  `json:"agent_id"`
	Amount      float64 `json:"amount"`
	ExpiresTick uint64  `json:"expires_tick"`
}

// World is the authoritative simulation state. The registries are the only
// stores for their categories; nothing else may hold a copy that is read as
// ground truth.
type World struct {
	Info  Info  `json:"info"`
	Clock Clock `json:"clock"`

	Materials map[string]float64 `json:"materials"`

	Agents    *registry.Registry[*Agent]        `json:"-"`
	Animals   *registry.Registry[*Animal]       `json:"-"`
	Resources *registry.Registry[*ResourceNode] `json:"-"`

	Reservations map[string]*Reservation `json:"reservations,omitempty"`
}

func NewWorld(info Info) *World {
	return &World{
		Info:         info,
		Materials:    map[string]float64{},
		Agents:       registry.New[*Agent](),
		Animals:      registry.New[*Animal](),
		Resources:    registry.New[*ResourceNode](),
		Reservations: map[string]*Reservation{},
	}
}

// Clamp keeps p inside the world rectangle.
func (w *World) Clamp(p Vec2) Vec2 {
	if p.X < 0 {
		p.X = 0
	}
	if p.Y < 0 {
		p.Y = 0
	}
	if p.X > w.Info.Width {
		p.X = w.Info.Width
	}
	if p.Y > w.Info.Height {
		p.Y = w.Info.Height
	}
	return p
}

// Clone deep-copies the world. The result shares nothing with the original
// and is safe to hand to other goroutines.
func (w *World) Clone() *World {
	c := NewWorld(w.Info)
	c.Clock = w.Clock

	for k, v := range w.Materials {
		c.Materials[k] = v
	}

	w.Agents.Each(func(id string, a *Agent) {
		c.Agents.Register(id, a.Clone())
	})
	w.Animals.Each(func(id string, an *Animal) {
		cp := *an
		c.Animals.Register(id, &cp)
	})
	w.Resources.Each(func(id string, n *ResourceNode) {
		cp := *n
		c.Resources.Register(id, &cp)
	})
	for id, rv := range w.Reservations {
		cp := *rv
		c.Reservations[id] = &cp
	}
	return c
}

// Clone copies the agent including its maps and target pointer.
func (a *Agent) Clone() *Agent {
	cp := *a
	if a.Target != nil {
		t := *a.Target
		cp.Target = &t
	}
	if a.CriticalNeeds != nil {
		cp.CriticalNeeds = make(map[string]bool, len(a.CriticalNeeds))
		for k, v := range a.CriticalNeeds {
			cp.CriticalNeeds[k] = v
		}
	}
	if a.Familiarity != nil {
		cp.Familiarity = make(map[string]float64, len(a.Familiarity))
		for k, v := range a.Familiarity {
			cp.Familiarity[k] = v
		}
	}
	return &cp
}
