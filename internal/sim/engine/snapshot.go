package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"aldea.world/internal/sim/state"
)

// Snapshot is a deep, immutable copy of the world at the end of one tick.
// Entity slices are ordered by id and share no memory with the live world,
// so holders may read it from any goroutine for as long as they like.
type Snapshot struct {
	WorldID   string    `json:"world_id"`
	Tick      uint64    `json:"tick"`
	TakenAt   time.Time `json:"taken_at"`
	TimeScale float64   `json:"time_scale"`

	Clock        state.Clock                   `json:"clock"`
	Agents       []*state.Agent                `json:"agents"`
	Animals      []*state.Animal               `json:"animals"`
	Resources    []*state.ResourceNode         `json:"resources"`
	Materials    map[string]float64            `json:"materials"`
	Reservations map[string]*state.Reservation `json:"reservations,omitempty"`

	// Events counts what the tick's flush delivered.
	Events int `json:"events"`

	// Digest fingerprints the simulation-relevant fields. Two runs fed the
	// same seed and command log produce the same digest sequence.
	Digest string `json:"digest,omitempty"`
}

// digestView excludes wall-clock and bookkeeping fields so the fingerprint
// only covers replayable state. encoding/json writes map keys sorted and
// the entity slices arrive id-ordered, so the bytes are canonical.
type digestView struct {
	WorldID      string                        `json:"world_id"`
	Tick         uint64                        `json:"tick"`
	TimeScale    float64                       `json:"time_scale"`
	Clock        state.Clock                   `json:"clock"`
	Agents       []*state.Agent                `json:"agents"`
	Animals      []*state.Animal               `json:"animals"`
	Resources    []*state.ResourceNode         `json:"resources"`
	Materials    map[string]float64            `json:"materials"`
	Reservations map[string]*state.Reservation `json:"reservations,omitempty"`
}

// ComputeDigest returns the hex sha256 of the snapshot's canonical form.
func (s *Snapshot) ComputeDigest() (string, error) {
	raw, err := json.Marshal(digestView{
		WorldID:      s.WorldID,
		Tick:         s.Tick,
		TimeScale:    s.TimeScale,
		Clock:        s.Clock,
		Agents:       s.Agents,
		Animals:      s.Animals,
		Resources:    s.Resources,
		Materials:    s.Materials,
		Reservations: s.Reservations,
	})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// snapshotOf captures w, which must already be a private clone.
func snapshotOf(w *state.World, worldID string, tick uint64, scale float64, events int) (*Snapshot, error) {
	s := &Snapshot{
		WorldID:      worldID,
		Tick:         tick,
		TakenAt:      time.Now().UTC(),
		TimeScale:    scale,
		Clock:        w.Clock,
		Agents:       w.Agents.All(),
		Animals:      w.Animals.All(),
		Resources:    w.Resources.All(),
		Materials:    w.Materials,
		Reservations: w.Reservations,
		Events:       events,
	}
	digest, err := s.ComputeDigest()
	s.Digest = digest
	return s, err
}
