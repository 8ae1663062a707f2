package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	WorldID string `json:"world_id"`
	Tick    uint64 `json:"tick"`
}

// SnapshotV1 is the full authoritative inventory state of one world.
type SnapshotV1 struct {
	Header Header `json:"header"`

	TickRate           int    `json:"tick_rate_hz"`
	SnapshotEveryTicks int    `json:"snapshot_every_ticks,omitempty"`
	PlayerSlots        int    `json:"player_slots"`
	TransferSlots      int    `json:"transfer_slots"`
	ItemPaletteDigest  string `json:"item_palette_digest,omitempty"`

	Agents     []AgentV1     `json:"agents"`
	Containers []ContainerV1 `json:"containers"`
	Counters   CountersV1    `json:"counters"`
}

type AgentV1 struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ResumeToken string `json:"resume_token,omitempty"`
	Inventory   string `json:"inventory"`
	Transfer    string `json:"transfer"`
}

type ContainerV1 struct {
	ID    string   `json:"id"`
	Owner string   `json:"owner,omitempty"`
	Slots []ItemV1 `json:"slots"`
}

// ItemV1 is one slot. ID zero is an empty slot.
type ItemV1 struct {
	ID         uint64            `json:"id,omitempty"`
	StackID    string            `json:"stack_id,omitempty"`
	Count      int32             `json:"count,omitempty"`
	MaxCount   int32             `json:"max_count,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type CountersV1 struct {
	NextAgent uint64 `json:"next_agent"`
	NextItem  uint64 `json:"next_item"`
}

// ItemCount counts the non-empty slots across all containers.
func (s SnapshotV1) ItemCount() int {
	n := 0
	for _, c := range s.Containers {
		for _, it := range c.Slots {
			if it.ID != 0 {
				n++
			}
		}
	}
	return n
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := encode(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func encode(f *os.File, snap SnapshotV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The gob payload repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the leading header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

// Latest returns the snapshot in dir with the highest tick. Files are named
// <tick>.snap.zst.
func Latest(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.snap.zst"))
	if err != nil {
		return "", err
	}
	best := ""
	var bestTick uint64
	for _, p := range matches {
		var tick uint64
		if _, err := fmt.Sscanf(filepath.Base(p), "%d.snap.zst", &tick); err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			best, bestTick = p, tick
		}
	}
	if best == "" {
		return "", fmt.Errorf("no snapshots in %s", dir)
	}
	return best, nil
}
