package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	persistlog "voxelinv.ai/internal/persistence/log"
	"voxelinv.ai/internal/persistence/snapshot"
	"voxelinv.ai/internal/sim/world"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "audit":
			auditCmd(os.Args[2:])
			return
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (optional)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "worlds")
	if *worldID != "" {
		base = filepath.Join(base, *worldID)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

// auditFilter selects audit entries. Empty fields match everything; Slot
// is ignored when negative.
type auditFilter struct {
	Actor     string
	Inventory string
	Slot      int
	SinceTick uint64
	ToTick    uint64
}

func (f auditFilter) match(e world.AuditEntry) bool {
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.Inventory != "" && e.Inventory != f.Inventory {
		return false
	}
	if f.Slot >= 0 && e.Slot != f.Slot {
		return false
	}
	if e.Tick < f.SinceTick {
		return false
	}
	if f.ToTick != 0 && e.Tick > f.ToTick {
		return false
	}
	return true
}

func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id")
	actor := fs.String("actor", "", "agent id filter")
	inv := fs.String("inventory", "", "inventory id filter")
	slot := fs.Int("slot", -1, "slot filter (requires -inventory)")
	sinceTick := fs.Uint64("since_tick", 0, "first tick (inclusive)")
	toTick := fs.Uint64("to_tick", 0, "last tick (inclusive, 0 = no limit)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*worldID) == "" {
		fmt.Fprintln(os.Stderr, "missing -world")
		os.Exit(2)
	}
	if *slot >= 0 && strings.TrimSpace(*inv) == "" {
		fmt.Fprintln(os.Stderr, "-slot requires -inventory")
		os.Exit(2)
	}

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	f := auditFilter{Actor: *actor, Inventory: *inv, Slot: *slot, SinceTick: *sinceTick, ToTick: *toTick}
	n, err := readAudit(worldDir, f, func(e world.AuditEntry) error {
		printJSON(os.Stdout, e)
		return nil
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "read audit:", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "%d matching entries\n", n)
}

// readAudit streams the rotated audit logs of a world, oldest first, and
// calls fn for every entry that passes f.
func readAudit(worldDir string, f auditFilter, fn func(world.AuditEntry) error) (int, error) {
	files, err := persistlog.Files(filepath.Join(worldDir, "audit"), "audit")
	if err != nil {
		return 0, err
	}
	n := 0
	for _, path := range files {
		err := persistlog.ReadJSONL(path, func(line []byte) error {
			var e world.AuditEntry
			if err := json.Unmarshal(line, &e); err != nil {
				return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
			}
			if !f.match(e) {
				return nil
			}
			n++
			return fn(e)
		})
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id")
	snapPath := fs.String("snapshot", "", "snapshot path (optional; defaults to latest)")
	inv := fs.String("inventory", "", "only this inventory")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*snapPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -snapshot")
			os.Exit(2)
		}
		var err error
		path, err = snapshot.Latest(filepath.Join(*dataDir, "worlds", *worldID, "snapshots"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v; provide -snapshot or run server until it writes one\n", err)
			os.Exit(2)
		}
	}

	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	writeInspect(os.Stdout, snap, *inv)
}

// writeInspect prints a snapshot header line followed by one line per
// occupied slot, ordered by inventory then slot.
func writeInspect(out io.Writer, snap snapshot.SnapshotV1, only string) {
	fmt.Fprintf(out, "world=%s tick=%d agents=%d containers=%d items=%d\n",
		snap.Header.WorldID, snap.Header.Tick, len(snap.Agents), len(snap.Containers), snap.ItemCount())

	cs := append([]snapshot.ContainerV1(nil), snap.Containers...)
	sort.Slice(cs, func(i, j int) bool { return cs[i].ID < cs[j].ID })
	for _, c := range cs {
		if only != "" && c.ID != only {
			continue
		}
		for slot, it := range c.Slots {
			if it.ID == 0 {
				continue
			}
			fmt.Fprintf(out, "%s[%d] id=%d %s x%d/%d", c.ID, slot, it.ID, it.StackID, it.Count, it.MaxCount)
			if len(it.Attributes) > 0 {
				b, _ := json.Marshal(it.Attributes)
				fmt.Fprintf(out, " %s", b)
			}
			fmt.Fprintln(out)
		}
	}
}

func printJSON(out io.Writer, v any) {
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
