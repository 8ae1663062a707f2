package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func sample(tick uint64) SnapshotV1 {
	return SnapshotV1{
		Header:        Header{Version: Version, WorldID: "W1", Tick: tick},
		TickRate:      5,
		PlayerSlots:   2,
		TransferSlots: 1,
		Agents:        []AgentV1{{ID: "A1", Name: "bot", ResumeToken: "tok", Inventory: "P:A1", Transfer: "T:A1"}},
		Containers: []ContainerV1{
			{ID: "P:A1", Owner: "A1", Slots: []ItemV1{{ID: 3, StackID: "WOOD", Count: 10, MaxCount: 64}, {}}},
			{ID: "T:A1", Owner: "A1", Slots: []ItemV1{{ID: 4, StackID: "SWORD", Count: 1, MaxCount: 1, Attributes: map[string]string{"durability": "12"}}}},
		},
		Counters: CountersV1{NextAgent: 2, NextItem: 5},
	}
}

func TestWriteReadSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots", "10.snap.zst")
	if err := WriteSnapshot(path, sample(10)); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Header.Tick != 10 || got.Header.WorldID != "W1" {
		t.Fatalf("header: %+v", got.Header)
	}
	if len(got.Containers) != 2 || got.Containers[0].Slots[0].Count != 10 || got.Containers[0].Slots[1].ID != 0 {
		t.Fatalf("containers: %+v", got.Containers)
	}
	if got.Containers[1].Slots[0].Attributes["durability"] != "12" {
		t.Fatalf("attributes lost: %+v", got.Containers[1].Slots[0])
	}
	if got.Counters.NextItem != 5 || got.ItemCount() != 2 {
		t.Fatalf("counters=%+v items=%d", got.Counters, got.ItemCount())
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if h.Tick != 10 || h.Version != Version {
		t.Fatalf("header: %+v", h)
	}
}

func TestLatest(t *testing.T) {
	dir := t.TempDir()
	for _, tick := range []uint64{5, 120, 30} {
		if err := WriteSnapshot(filepath.Join(dir, fmt.Sprintf("%d.snap.zst", tick)), sample(tick)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	_ = os.WriteFile(filepath.Join(dir, "notes.snap.zst"), []byte("x"), 0o644)

	p, err := Latest(dir)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if filepath.Base(p) != "120.snap.zst" {
		t.Fatalf("latest=%s", p)
	}
	if _, err := Latest(t.TempDir()); err == nil {
		t.Fatalf("expected error on empty dir")
	}
}

func TestReadSnapshotRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1.snap.zst")
	if err := os.WriteFile(path, []byte("not zstd"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadSnapshot(path); err == nil {
		t.Fatalf("expected error")
	}
}
