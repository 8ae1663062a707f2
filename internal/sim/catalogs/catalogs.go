package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"voxelinv.ai/internal/sim/item"
)

type Catalogs struct {
	Items ItemCatalog
}

type ItemCatalog struct {
	Palette       []string
	Index         map[string]uint16
	Defs          map[string]ItemDef
	PaletteDigest string
	DefsDigest    string
}

// ItemDef describes one item type. StackID defaults to ID; items sharing a
// StackID and attributes merge into one stack.
type ItemDef struct {
	ID         string            `json:"id"`
	StackID    string            `json:"stack_id,omitempty"`
	Kind       string            `json:"kind"` // "BLOCK","TOOL","MATERIAL","FOOD"
	MaxStack   int32             `json:"max_stack"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if err := loadItems(filepath.Join(configDir, "items.json"), &c.Items); err != nil {
		return nil, err
	}
	return &c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadItems(path string, out *ItemCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return parseItems(raw, out)
}

func parseItems(raw []byte, out *ItemCatalog) error {
	out.DefsDigest = sha256Hex(raw)

	var defs []ItemDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("items.json: %w", err)
	}
	out.Defs = map[string]ItemDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("items.json: empty id")
		}
		if _, dup := out.Defs[d.ID]; dup {
			return fmt.Errorf("items.json: duplicate id %s", d.ID)
		}
		if d.MaxStack <= 0 {
			return fmt.Errorf("items.json: %s: max_stack must be positive", d.ID)
		}
		if d.StackID == "" {
			d.StackID = d.ID
		}
		out.Defs[d.ID] = d
	}

	ids := make([]string, 0, len(out.Defs))
	for id := range out.Defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out.Palette = ids
	out.Index = make(map[string]uint16, len(ids))
	for i, id := range ids {
		out.Index[id] = uint16(i)
	}
	palJSON, _ := json.Marshal(ids)
	out.PaletteDigest = sha256Hex(palJSON)
	return nil
}

// NewStack builds an unregistered stack of count items of type id.
func (c *ItemCatalog) NewStack(id string, count int32) (item.Stack, error) {
	d, ok := c.Defs[id]
	if !ok {
		return item.Stack{}, fmt.Errorf("unknown item %q", id)
	}
	if count <= 0 || count > d.MaxStack {
		return item.Stack{}, fmt.Errorf("item %s: count %d outside [1,%d]", id, count, d.MaxStack)
	}
	var attrs item.Attributes
	if len(d.Attributes) > 0 {
		attrs = item.Attributes(d.Attributes).Clone()
	}
	return item.Stack{StackID: d.StackID, Count: count, MaxCount: d.MaxStack, Attributes: attrs}, nil
}
