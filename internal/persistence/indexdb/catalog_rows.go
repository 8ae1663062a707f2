package indexdb

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"voxelinv.ai/internal/sim/catalogs"
	"voxelinv.ai/internal/sim/tuning"
)

type catalogRow struct {
	name   string
	digest string
	data   []byte
}

// catalogRows collects the catalogs a world runs with: raw definition files
// where available plus canonical JSON for the values actually applied.
func catalogRows(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) []catalogRow {
	var rows []catalogRow
	if cats != nil {
		if configDir != "" {
			if b, err := os.ReadFile(filepath.Join(configDir, "items.json")); err == nil && len(b) > 0 {
				rows = append(rows, catalogRow{name: "items_defs", digest: cats.Items.DefsDigest, data: b})
			}
		}
		if b, err := json.Marshal(cats.Items.Palette); err == nil && len(b) > 0 {
			rows = append(rows, catalogRow{name: "items_palette", digest: cats.Items.PaletteDigest, data: b})
		}
		defs := make([]catalogs.ItemDef, 0, len(cats.Items.Defs))
		for _, d := range cats.Items.Defs {
			defs = append(defs, d)
		}
		sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
		if b, err := json.Marshal(defs); err == nil && len(b) > 0 {
			rows = append(rows, catalogRow{name: "items_resolved", digest: sha256Hex(b), data: b})
		}
	}
	if b, err := json.Marshal(tune); err == nil && len(b) > 0 {
		rows = append(rows, catalogRow{name: "tuning", digest: sha256Hex(b), data: b})
	}
	return rows
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
