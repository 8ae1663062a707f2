package worldtest

import (
	"testing"

	"voxelinv.ai/internal/sim/catalogs"
	world "voxelinv.ai/internal/sim/world"
)

func testCatalogs(t *testing.T) *catalogs.Catalogs {
	t.Helper()
	cats, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	return cats
}

func testConfig() world.WorldConfig {
	return world.WorldConfig{
		ID:            "W1",
		TickRateHz:    5,
		PlayerSlots:   4,
		TransferSlots: 1,
		StarterItems:  []world.ItemCount{{Item: "WOOD", Count: 10}, {Item: "WOOL_RED", Count: 8}},
		SharedContainers: []world.SharedContainerConfig{
			{ID: "CHEST:W1", Slots: 2, Items: []world.ItemCount{{Item: "WOOD", Count: 60}, {Item: "WOOL_BLUE", Count: 8}}},
		},
		MaxPending:     64,
		MaxAgeTicks:    600,
		IntentsPerTick: 8,
	}
}

func newHarness(t *testing.T, mutate func(*world.WorldConfig)) *Harness {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	return NewHarness(t, cfg, testCatalogs(t))
}
