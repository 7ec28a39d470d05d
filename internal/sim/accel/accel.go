// Package accel hosts swappable backends for the simulation's pairwise
// proximity pass. The CPU backend is the pure-Go reference; Pool fans the
// same scan across goroutines once the population is large enough to pay
// for it. Backends must be deterministic, same input giving byte-identical
// output, or replay digests stop matching.
package accel

import (
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// DefaultThreshold is the population size below which Pool stays serial.
const DefaultThreshold = 64

// Point is a position in the caller's index space: Pairs reports indexes
// into the slice it was handed.
type Point struct {
	X float64
	Y float64
}

// Pair is one proximity match with A < B.
type Pair struct {
	A        int
	B        int
	Distance float64
}

// Backend computes all index pairs within radius of each other.
type Backend interface {
	Name() string
	Pairs(pts []Point, radius float64) ([]Pair, error)
}

// CPU is the serial reference backend.
type CPU struct{}

func (CPU) Name() string { return "cpu" }

func (CPU) Pairs(pts []Point, radius float64) ([]Pair, error) {
	if radius <= 0 || len(pts) < 2 {
		return nil, nil
	}
	r2 := radius * radius
	var out []Pair
	for i := 0; i < len(pts)-1; i++ {
		out = scanRow(out, pts, i, r2)
	}
	return out, nil
}

// Pool splits the scan by row across a bounded worker set and stitches the
// row results back in row order, so its output matches CPU exactly.
type Pool struct {
	workers   int
	threshold int
}

func NewPool(workers, threshold int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Pool{workers: workers, threshold: threshold}
}

func (p *Pool) Name() string { return "pool" }

func (p *Pool) Pairs(pts []Point, radius float64) ([]Pair, error) {
	if len(pts) < p.threshold {
		return CPU{}.Pairs(pts, radius)
	}
	r2 := radius * radius
	rows := make([][]Pair, len(pts))

	var g errgroup.Group
	g.SetLimit(p.workers)
	chunk := (len(pts) + p.workers - 1) / p.workers
	for lo := 0; lo < len(pts); lo += chunk {
		lo := lo
		hi := min(lo+chunk, len(pts))
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				rows[i] = scanRow(nil, pts, i, r2)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []Pair
	for _, row := range rows {
		out = append(out, row...)
	}
	return out, nil
}

func scanRow(dst []Pair, pts []Point, i int, r2 float64) []Pair {
	for j := i + 1; j < len(pts); j++ {
		dx := pts[j].X - pts[i].X
		dy := pts[j].Y - pts[i].Y
		d2 := dx*dx + dy*dy
		if d2 > r2 {
			continue
		}
		dst = append(dst, Pair{A: i, B: j, Distance: math.Sqrt(d2)})
	}
	return dst
}
