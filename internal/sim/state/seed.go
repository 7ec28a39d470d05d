package state

import (
	"fmt"
	"math/rand"
)

type SeedConfig struct {
	Agents    int
	Animals   int
	Resources int
}

var (
	animalSpecies = []string{"deer", "boar", "fox"}
	resourceKinds = []string{"wood", "stone", "berries"}

	resourceCapacity = map[string]float64{"wood": 120, "stone": 200, "berries": 60}
	resourceRegen    = map[string]float64{"wood": 0.4, "stone": 0.1, "berries": 0.8}
)

// Seed populates a fresh world from w.Info.Seed. The same seed and counts
// always produce the same population, which is what makes replays and
// digest comparisons possible.
func Seed(w *World, cfg SeedConfig) {
	rng := rand.New(rand.NewSource(w.Info.Seed))
	pos := func() Vec2 {
		return Vec2{X: rng.Float64() * w.Info.Width, Y: rng.Float64() * w.Info.Height}
	}

	for i := 0; i < cfg.Agents; i++ {
		id := fmt.Sprintf("agent-%d", i+1)
		w.Agents.Register(id, NewAgent(id, id, pos()))
	}
	for i := 0; i < cfg.Animals; i++ {
		id := fmt.Sprintf("animal-%d", i+1)
		w.Animals.Register(id, &Animal{
			ID:      id,
			Species: animalSpecies[i%len(animalSpecies)],
			Pos:     pos(),
			Heading: rng.Float64() * 6.283185307179586,
			Speed:   30,
		})
	}
	for i := 0; i < cfg.Resources; i++ {
		id := fmt.Sprintf("node-%d", i+1)
		kind := resourceKinds[i%len(resourceKinds)]
		w.Resources.Register(id, &ResourceNode{
			ID:       id,
			Kind:     kind,
			Pos:      pos(),
			Amount:   resourceCapacity[kind],
			Capacity: resourceCapacity[kind],
			Regen:    resourceRegen[kind],
		})
	}
}
