// Package archive keeps long-lived checkpoint copies of world snapshots and
// bounds how many rolling snapshots stay on disk.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"voxelinv.ai/internal/persistence/snapshot"
)

// Policy controls checkpointing. Zero values disable the matching behavior.
type Policy struct {
	// EveryTicks archives the snapshot taken at the end of every
	// EveryTicks-long window.
	EveryTicks uint64
	// KeepSnapshots is how many rolling snapshots to keep.
	KeepSnapshots int
}

type CheckpointMeta struct {
	WorldID     string `json:"world_id"`
	Tick        uint64 `json:"tick"`
	Snapshot    string `json:"snapshot"`
	Agents      int    `json:"agents"`
	Containers  int    `json:"containers"`
	Items       int    `json:"items"`
	ItemDigest  string `json:"item_palette_digest,omitempty"`
	CreatedAt   string `json:"created_at"`
	WindowTicks uint64 `json:"window_ticks"`
}

// Checkpoint copies a window-end snapshot into
// worldDir/archives/checkpoint_<tick>/. Snapshots hold the last executed
// tick, so a window ends at tick = EveryTicks*k - 1.
func Checkpoint(worldDir, snapshotPath string, snap snapshot.SnapshotV1, p Policy) (archivedPath string, archived bool, err error) {
	if p.EveryTicks == 0 || (snap.Header.Tick+1)%p.EveryTicks != 0 {
		return "", false, nil
	}

	dir := filepath.Join(worldDir, "archives", fmt.Sprintf("checkpoint_%010d", snap.Header.Tick))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, err
	}
	dst := filepath.Join(dir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", false, err
	}

	meta := CheckpointMeta{
		WorldID:     snap.Header.WorldID,
		Tick:        snap.Header.Tick,
		Snapshot:    filepath.Base(dst),
		Agents:      len(snap.Agents),
		Containers:  len(snap.Containers),
		Items:       snap.ItemCount(),
		ItemDigest:  snap.ItemPaletteDigest,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339Nano),
		WindowTicks: p.EveryTicks,
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", false, err
	}
	if err := os.WriteFile(filepath.Join(dir, "meta.json"), b, 0o644); err != nil {
		return "", false, err
	}
	return dst, true, nil
}

// Prune removes the oldest <tick>.snap.zst files in dir so that at most keep
// remain. It returns the removed paths.
func Prune(dir string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.snap.zst"))
	if err != nil {
		return nil, err
	}
	type entry struct {
		path string
		tick uint64
	}
	var snaps []entry
	for _, p := range matches {
		var tick uint64
		if _, err := fmt.Sscanf(filepath.Base(p), "%d.snap.zst", &tick); err != nil {
			continue
		}
		snaps = append(snaps, entry{p, tick})
	}
	if len(snaps) <= keep {
		return nil, nil
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].tick < snaps[j].tick })

	var removed []string
	for _, e := range snaps[:len(snaps)-keep] {
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed = append(removed, e.path)
	}
	return removed, nil
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
