// Command replay re-runs a world's tick log against a fresh runner and
// verifies the recorded digests. A clean pass proves the log and snapshot
// reproduce the run; the first mismatch is reported and the replay stops.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	persistlog "aldea.world/internal/persistence/log"
	"aldea.world/internal/persistence/snapshot"
	"aldea.world/internal/sim/engine"
	"aldea.world/internal/sim/spatial"
	"aldea.world/internal/sim/state"
	"aldea.world/internal/sim/systems"
	"aldea.world/internal/sim/tuning"
)

func main() {
	var (
		dataDir    = flag.String("data", "./data", "runtime data directory")
		worldFlag  = flag.String("world", "", "world id (default: tuning world_id)")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml (must match the recording run)")
		snapPath   = flag.String("snapshot", "", "snapshot to start from (default: latest in the data dir)")
		fresh      = flag.Bool("fresh", false, "ignore snapshots and replay from tick 0 on a freshly seeded world")
		toTick     = flag.Uint64("to_tick", 0, "stop at tick (inclusive, 0 = end of log)")
		verbose    = flag.Bool("v", false, "print every verified tick")
	)
	flag.Parse()

	// Systems read their knobs from tuning; digests only reproduce when
	// these match the recording run.
	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load tuning:", err)
		os.Exit(1)
	}
	worldID := strings.TrimSpace(*worldFlag)
	if worldID == "" {
		worldID = tune.WorldID
	}
	tune.WorldID = worldID
	worldDir := filepath.Join(*dataDir, "worlds", worldID)

	var (
		w       *state.World
		resumed *snapshot.SnapshotV1
	)
	if !*fresh {
		path := strings.TrimSpace(*snapPath)
		if path == "" {
			path = snapshot.Latest(filepath.Join(worldDir, "snapshots"))
		}
		if path != "" {
			snap, err := snapshot.ReadSnapshot(path)
			if err != nil {
				fmt.Fprintln(os.Stderr, "read snapshot:", err)
				os.Exit(1)
			}
			fmt.Printf("snapshot v%d world=%s tick=%d seed=%d agents=%d animals=%d resources=%d digest=%s\n",
				snap.Header.Version, snap.Header.WorldID, snap.Header.Tick, snap.Info.Seed,
				len(snap.State.Agents), len(snap.State.Animals), len(snap.State.Resources), snap.State.Digest)
			w = state.NewWorld(snap.Info)
			resumed = &snap
		}
	}
	if w == nil {
		w = state.NewWorld(tune.WorldInfo())
		fmt.Printf("fresh world=%s seed=%d %gx%g\n", worldID, w.Info.Seed, w.Info.Width, w.Info.Height)
	}

	grid := spatial.NewGrid(w.Info.Width, w.Info.Height, tune.CellSize)
	bus := engine.NewBus()
	runner := engine.NewRunner(tune.RunnerConfig(), w, grid, bus, log.New(os.Stderr, "[replay] ", log.LstdFlags))
	runner.Register(systems.Stack(tune.StackConfig(), w, bus, grid, tune.AccelBackend(), runner.Tick)...)

	if resumed != nil {
		runner.Restore(&resumed.State)
	} else {
		state.Seed(w, tune.SeedConfig())
	}

	start := runner.Tick()
	var checked, skipped uint64
	err = persistlog.ScanTicks(filepath.Join(worldDir, "ticks"), func(entry engine.TickLogEntry) (bool, error) {
		if entry.Tick <= start {
			skipped++
			return true, nil
		}
		if *toTick != 0 && entry.Tick > *toTick {
			return false, nil
		}
		if want := runner.Tick() + 1; entry.Tick != want {
			return false, fmt.Errorf("tick gap: log jumps to %d, world is at %d", entry.Tick, want-1)
		}

		// Recorded commands carry the ids and values the server used, so
		// requeueing them verbatim reproduces the original applications.
		for _, cmd := range entry.Commands {
			if !runner.EnqueueCommand(cmd) {
				return false, fmt.Errorf("tick %d: command queue refused %s", entry.Tick, cmd.ID)
			}
		}

		// Recover the duration the recorder measured. Round, don't
		// truncate: Seconds() has to come back bit-identical or the
		// positions drift and the digest with them.
		elapsed := time.Duration(math.Round(entry.Elapsed * float64(time.Second)))
		if err := runner.StepOnce(elapsed); err != nil {
			return false, err
		}
		checked++

		got := runner.LatestSnapshot().Digest
		if entry.Digest != "" && got != entry.Digest {
			return false, fmt.Errorf("digest mismatch at tick %d: got=%s want=%s", entry.Tick, got, entry.Digest)
		}
		if *verbose {
			fmt.Printf("tick %d ok digest=%s commands=%d events=%d\n", entry.Tick, got, len(entry.Commands), entry.Events)
		}
		return true, nil
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	if checked == 0 {
		fmt.Fprintf(os.Stderr, "no ticks to verify after tick %d (skipped %d at or before the snapshot)\n", start, skipped)
		os.Exit(1)
	}
	fmt.Printf("replay ok: checked=%d ticks (%d..%d)\n", checked, start+1, runner.Tick())
}
