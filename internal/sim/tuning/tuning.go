package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz         int `yaml:"tick_rate_hz"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks"`

	Inventory  Inventory  `yaml:"inventory"`
	Prediction Prediction `yaml:"prediction"`
	RateLimits RateLimits `yaml:"rate_limits"`
}

type Inventory struct {
	PlayerSlots      int               `yaml:"player_slots"`
	TransferSlots    int               `yaml:"transfer_slots"`
	StarterItems     []ItemCount       `yaml:"starter_items"`
	SharedContainers []SharedContainer `yaml:"shared_containers"`
}

type ItemCount struct {
	Item  string `yaml:"item"`
	Count int32  `yaml:"count"`
}

// SharedContainer is a world-owned container every agent may use.
type SharedContainer struct {
	ID    string      `yaml:"id"`
	Slots int         `yaml:"slots"`
	Items []ItemCount `yaml:"items"`
}

// Prediction bounds the client's unacknowledged intents. Zero disables a
// bound.
type Prediction struct {
	MaxPending  int    `yaml:"max_pending"`
	MaxAgeTicks uint64 `yaml:"max_age_ticks"`
}

type RateLimits struct {
	IntentsPerTick int `yaml:"intents_per_tick"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:    "1.0",
		TickRateHz:         5,
		SnapshotEveryTicks: 3000,
		Inventory: Inventory{
			PlayerSlots:   36,
			TransferSlots: 1,
		},
		Prediction: Prediction{MaxPending: 64, MaxAgeTicks: 600},
		RateLimits: RateLimits{IntentsPerTick: 16},
	}
}

// Load reads a tuning file on top of Defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.TickRateHz <= 0 {
		return fmt.Errorf("tick_rate_hz must be positive")
	}
	if t.Inventory.PlayerSlots <= 0 {
		return fmt.Errorf("inventory.player_slots must be positive")
	}
	if t.Inventory.TransferSlots < 0 {
		return fmt.Errorf("inventory.transfer_slots must not be negative")
	}
	if len(t.Inventory.StarterItems) > t.Inventory.PlayerSlots {
		return fmt.Errorf("inventory.starter_items: %d stacks do not fit %d slots", len(t.Inventory.StarterItems), t.Inventory.PlayerSlots)
	}
	seen := map[string]bool{}
	for _, c := range t.Inventory.SharedContainers {
		if c.ID == "" || c.Slots <= 0 {
			return fmt.Errorf("shared container %q: id and positive slots required", c.ID)
		}
		if seen[c.ID] {
			return fmt.Errorf("shared container %q: duplicate id", c.ID)
		}
		seen[c.ID] = true
		if len(c.Items) > c.Slots {
			return fmt.Errorf("shared container %q: %d stacks do not fit %d slots", c.ID, len(c.Items), c.Slots)
		}
	}
	if t.Prediction.MaxPending < 0 {
		return fmt.Errorf("prediction.max_pending must not be negative")
	}
	if t.RateLimits.IntentsPerTick < 0 {
		return fmt.Errorf("rate_limits.intents_per_tick must not be negative")
	}
	return nil
}
