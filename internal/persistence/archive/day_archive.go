// Package archive keeps one snapshot per in-world day for long-term
// retention, beside the rolling snapshots directory.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"aldea.world/internal/persistence/snapshot"
)

type DayArchiveMeta struct {
	Day       int    `json:"day"`
	Tick      uint64 `json:"tick"`
	Seed      int64  `json:"seed"`
	Snapshot  string `json:"snapshot"`
	Digest    string `json:"digest,omitempty"`
	CreatedAt string `json:"created_at"`
}

// DayArchiver copies the first snapshot of each new in-world day into
// `worldDir/archives/day_<NNN>/`. Not safe for concurrent use; the snapshot
// writer is a single goroutine.
type DayArchiver struct {
	worldDir string
	lastDay  int
}

// NewDayArchiver resumes from whatever is already on disk, so restarts
// never archive the same day twice.
func NewDayArchiver(worldDir string) *DayArchiver {
	a := &DayArchiver{worldDir: worldDir, lastDay: -1}
	ents, err := os.ReadDir(filepath.Join(worldDir, "archives"))
	if err != nil {
		return a
	}
	for _, e := range ents {
		if !e.IsDir() {
			continue
		}
		var day int
		if _, err := fmt.Sscanf(e.Name(), "day_%d", &day); err == nil && day > a.lastDay {
			a.lastDay = day
		}
	}
	return a
}

// Archive copies the snapshot when it is the first one of a new day. It
// returns archived=false for every later snapshot of the same day.
func (a *DayArchiver) Archive(snapshotPath string, snap snapshot.SnapshotV1) (day int, archivedPath string, archived bool, err error) {
	day = snap.State.Clock.Day
	if day <= a.lastDay {
		return 0, "", false, nil
	}

	archiveDir := filepath.Join(a.worldDir, "archives", fmt.Sprintf("day_%03d", day))
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return 0, "", false, err
	}

	dst := filepath.Join(archiveDir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return 0, "", false, err
	}

	meta := DayArchiveMeta{
		Day:       day,
		Tick:      snap.Header.Tick,
		Seed:      snap.Info.Seed,
		Snapshot:  filepath.Base(dst),
		Digest:    snap.State.Digest,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
		_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
	}

	a.lastDay = day
	return day, dst, true, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
