// Package spatial indexes movable entities on a fixed-cell grid so systems
// can ask "who is within radius R of P" without scanning the whole world.
package spatial

import (
	"math"
	"sync"

	"aldea.world/internal/sim/state"
)

// DefaultCellSize is the square cell edge used when tuning does not
// override it.
const DefaultCellSize = 70.0

type Category string

const (
	CategoryAny    Category = ""
	CategoryAgent  Category = "agent"
	CategoryAnimal Category = "animal"
)

// Hit is one query result: an entity id annotated with its Euclidean
// distance from the query point and its category.
type Hit struct {
	ID       string
	Distance float64
	Category Category
}

type cellKey struct{ cx, cy int }

type entry struct {
	pos      state.Vec2
	category Category
	key      cellKey
}

// Grid partitions the world rectangle into cellSize squares. Positions are
// cached per entity so queries never touch the registries. The grid is lazy:
// movement systems call MarkDirty (or UpdatePosition for single movers) and
// the next RebuildIfNeeded pays the full rebuild cost once.
//
// Queries issued while the grid is dirty return the last rebuilt positions.
// That staleness is the documented contract; callers wanting fresh results
// rebuild first.
type Grid struct {
	cellSize float64
	invCell  float64
	cols     int
	rows     int

	cells   map[cellKey][]string
	entries map[string]entry

	dirty bool

	pool sync.Pool
}

func NewGrid(width, height, cellSize float64) *Grid {
	if cellSize <= 0 {
		cellSize = DefaultCellSize
	}
	cols := int(math.Ceil(width / cellSize))
	rows := int(math.Ceil(height / cellSize))
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	g := &Grid{
		cellSize: cellSize,
		invCell:  1 / cellSize,
		cols:     cols,
		rows:     rows,
		cells:    map[cellKey][]string{},
		entries:  map[string]entry{},
		dirty:    true,
	}
	g.pool.New = func() any {
		s := make([]Hit, 0, 16)
		return &s
	}
	return g
}

// MarkDirty records that cached positions may no longer match reality.
// Cheap; call it freely after bulk moves.
func (g *Grid) MarkDirty() { g.dirty = true }

func (g *Grid) Dirty() bool { return g.dirty }

// Len reports how many entities are currently indexed.
func (g *Grid) Len() int { return len(g.entries) }

// RebuildIfNeeded reindexes every live agent and animal when the grid is
// dirty, then clears the flag. A clean grid makes this a no-op.
func (g *Grid) RebuildIfNeeded(agents []*state.Agent, animals []*state.Animal) {
	if !g.dirty {
		return
	}
	clear(g.cells)
	clear(g.entries)
	for _, a := range agents {
		if a == nil || a.Dead {
			continue
		}
		g.insert(a.ID, a.Pos, CategoryAgent)
	}
	for _, an := range animals {
		if an == nil || an.Dead {
			continue
		}
		g.insert(an.ID, an.Pos, CategoryAnimal)
	}
	g.dirty = false
}

// UpdatePosition moves one entity without a full rebuild. Unknown ids are
// inserted, so spawn paths may use it directly.
func (g *Grid) UpdatePosition(id string, pos state.Vec2, category Category) {
	e, ok := g.entries[id]
	if !ok {
		g.insert(id, pos, category)
		return
	}
	key := g.keyFor(pos)
	if key != e.key {
		g.removeFromCell(e.key, id)
		g.cells[key] = append(g.cells[key], id)
	}
	e.pos = pos
	e.category = category
	e.key = key
	g.entries[id] = e
}

// Remove evicts an entity from the grid and caches. Used on death/despawn.
func (g *Grid) Remove(id string) {
	e, ok := g.entries[id]
	if !ok {
		return
	}
	g.removeFromCell(e.key, id)
	delete(g.entries, id)
}

// QueryRadius returns every indexed entity within radius of pos, each with
// its distance and category. A non-empty filter restricts results to that
// category. Only cells overlapping the 2r bounding box are scanned.
//
// The returned slice comes from an internal pool; hand it back with Release
// once consumed. Keeping it is safe but defeats the pooling.
func (g *Grid) QueryRadius(pos state.Vec2, radius float64, filter Category) []Hit {
	out := g.acquire()
	if radius <= 0 || len(g.entries) == 0 {
		return out
	}

	min := g.keyFor(state.Vec2{X: pos.X - radius, Y: pos.Y - radius})
	max := g.keyFor(state.Vec2{X: pos.X + radius, Y: pos.Y + radius})
	r2 := radius * radius

	for cy := min.cy; cy <= max.cy; cy++ {
		for cx := min.cx; cx <= max.cx; cx++ {
			for _, id := range g.cells[cellKey{cx: cx, cy: cy}] {
				e := g.entries[id]
				if filter != CategoryAny && e.category != filter {
					continue
				}
				dx := e.pos.X - pos.X
				dy := e.pos.Y - pos.Y
				d2 := dx*dx + dy*dy
				if d2 > r2 {
					continue
				}
				out = append(out, Hit{ID: id, Distance: math.Sqrt(d2), Category: e.category})
			}
		}
	}
	return out
}

// Release returns a query result slice to the pool.
func (g *Grid) Release(hits []Hit) {
	if hits == nil {
		return
	}
	hits = hits[:0]
	g.pool.Put(&hits)
}

func (g *Grid) acquire() []Hit {
	p := g.pool.Get().(*[]Hit)
	return (*p)[:0]
}

func (g *Grid) insert(id string, pos state.Vec2, category Category) {
	key := g.keyFor(pos)
	g.cells[key] = append(g.cells[key], id)
	g.entries[id] = entry{pos: pos, category: category, key: key}
}

// removeFromCell keeps the remaining ids in insertion order so query result
// order stays deterministic across runs.
func (g *Grid) removeFromCell(key cellKey, id string) {
	ids := g.cells[key]
	for i, v := range ids {
		if v != id {
			continue
		}
		ids = append(ids[:i], ids[i+1:]...)
		break
	}
	if len(ids) == 0 {
		delete(g.cells, key)
		return
	}
	g.cells[key] = ids
}

func (g *Grid) keyFor(p state.Vec2) cellKey {
	cx := int(math.Floor(p.X * g.invCell))
	cy := int(math.Floor(p.Y * g.invCell))
	if cx < 0 {
		cx = 0
	}
	if cx >= g.cols {
		cx = g.cols - 1
	}
	if cy < 0 {
		cy = 0
	}
	if cy >= g.rows {
		cy = g.rows - 1
	}
	return cellKey{cx: cx, cy: cy}
}
