package mcp

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"voxelinv.ai/internal/agentgw/bridge"
	"voxelinv.ai/internal/sim/catalogs"
	"voxelinv.ai/internal/sim/world"
	"voxelinv.ai/internal/transport/ws"
)

func TestMCP_EndToEnd_WS(t *testing.T) {
	cats, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	w, err := world.New(world.WorldConfig{
		ID:           "mcp_test",
		TickRateHz:   50,
		PlayerSlots:  4,
		StarterItems: []world.ItemCount{{Item: "WOOD", Count: 6}},
		SharedContainers: []world.SharedContainerConfig{
			{ID: "CHEST:M", Slots: 3},
		},
		MaxPending:     16,
		IntentsPerTick: 8,
	}, cats)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	tsWorld := httptest.NewServer(ws.NewServer(w, nil).Handler())
	defer tsWorld.Close()

	br, err := bridge.NewManager(bridge.Config{
		WorldWSURL:  "ws" + strings.TrimPrefix(tsWorld.URL, "http"),
		StateFile:   filepath.Join(t.TempDir(), "sessions.json"),
		MaxSessions: 4,
	})
	if err != nil {
		t.Fatalf("bridge: %v", err)
	}
	defer br.Close()
	ts := newTestServer(t, Config{Bridge: br})

	_, resp := rpcPost(t, ts.URL, callTool(1, "voxelinv.move", map[string]any{
		"kind": "swap", "from_slot": 0, "to": "CHEST:M", "to_slot": 2, "wait_ack": true, "timeout_ms": 3000,
	}), nil)
	if resp.Error != nil {
		t.Fatalf("move error: %+v", resp.Error)
	}
	res, _ := resp.Result.(map[string]any)
	if res["applied"] != true || res["acked"] != true {
		t.Fatalf("move result: %v", res)
	}

	_, resp = rpcPost(t, ts.URL, callTool(2, "voxelinv.get_inventories", map[string]any{"inventories": []string{"CHEST:M"}}), nil)
	if resp.Error != nil {
		t.Fatalf("get_inventories error: %+v", resp.Error)
	}
	res, _ = resp.Result.(map[string]any)
	invs, _ := res["inventories"].([]any)
	if len(invs) != 1 {
		t.Fatalf("inventories: %v", res["inventories"])
	}
	slots, _ := invs[0].(map[string]any)["slots"].([]any)
	if len(slots) != 3 || slots[2] == nil {
		t.Fatalf("chest slots: %v", slots)
	}
	if got, _ := slots[2].(map[string]any)["count"].(float64); got != 6 {
		t.Fatalf("chest slot 2 count=%v", slots[2])
	}

	_, resp = rpcPost(t, ts.URL, callTool(3, "voxelinv.disconnect", nil), nil)
	if resp.Error != nil {
		t.Fatalf("disconnect: %+v", resp.Error)
	}
	_, resp = rpcPost(t, ts.URL, callTool(4, "voxelinv.get_status", nil), nil)
	st, _ := resp.Result.(map[string]any)
	if resp.Error != nil || st["connected"] != false || st["paused"] != true {
		t.Fatalf("status after disconnect: %v err=%+v", st, resp.Error)
	}
}
