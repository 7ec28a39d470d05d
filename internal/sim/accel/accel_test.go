package accel

import (
	"math/rand"
	"testing"
)

func randomPoints(n int, seed int64) []Point {
	rng := rand.New(rand.NewSource(seed))
	pts := make([]Point, n)
	for i := range pts {
		pts[i] = Point{X: rng.Float64() * 1000, Y: rng.Float64() * 1000}
	}
	return pts
}

func TestCPU_Pairs(t *testing.T) {
	pts := []Point{{0, 0}, {10, 0}, {100, 100}}
	got, err := CPU{}.Pairs(pts, 15)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].A != 0 || got[0].B != 1 {
		t.Fatalf("pairs = %+v, want one (0,1) pair", got)
	}
	if got[0].Distance != 10 {
		t.Fatalf("distance = %v, want 10", got[0].Distance)
	}

	if got, _ := (CPU{}).Pairs(pts, 0); got != nil {
		t.Fatalf("zero radius returned %v", got)
	}
	if got, _ := (CPU{}).Pairs(pts[:1], 100); got != nil {
		t.Fatalf("single point returned %v", got)
	}
}

func TestPool_MatchesCPUExactly(t *testing.T) {
	pts := randomPoints(200, 42)
	want, err := CPU{}.Pairs(pts, 60)
	if err != nil {
		t.Fatal(err)
	}

	for _, workers := range []int{1, 3, 8} {
		pool := NewPool(workers, 1)
		got, err := pool.Pairs(pts, 60)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != len(want) {
			t.Fatalf("workers=%d: %d pairs, want %d", workers, len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("workers=%d: pair[%d] = %+v, want %+v", workers, i, got[i], want[i])
			}
		}
	}
}

func TestPool_SerialBelowThreshold(t *testing.T) {
	pts := randomPoints(10, 7)
	pool := NewPool(4, 64)
	got, err := pool.Pairs(pts, 500)
	if err != nil {
		t.Fatal(err)
	}
	want, _ := CPU{}.Pairs(pts, 500)
	if len(got) != len(want) {
		t.Fatalf("threshold fallback diverged: %d vs %d", len(got), len(want))
	}
}
