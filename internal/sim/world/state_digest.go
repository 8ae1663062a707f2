package world

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"sort"

	"voxelinv.ai/internal/sim/item"
)

func (w *World) stateDigest(nowTick uint64) string {
	h := sha256.New()
	var tmp [8]byte

	digestWriteU64(h, &tmp, nowTick)
	digestWriteString(h, &tmp, w.cfg.ID)

	ids := make([]string, 0, len(w.agents))
	for id := range w.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		a := w.agents[id]
		digestWriteString(h, &tmp, a.ID)
		digestWriteString(h, &tmp, a.Name)
	}

	for _, cs := range w.state.Export() {
		digestWriteString(h, &tmp, string(cs.ID))
		digestWriteString(h, &tmp, cs.Owner)
		digestWriteU64(h, &tmp, uint64(len(cs.Slots)))
		for _, st := range cs.Slots {
			digestWriteStack(h, &tmp, st)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func digestWriteStack(h hash.Hash, tmp *[8]byte, st item.Stack) {
	digestWriteU64(h, tmp, uint64(st.ID))
	if st.ID == item.NoID {
		return
	}
	digestWriteString(h, tmp, st.StackID)
	digestWriteU64(h, tmp, uint64(st.Count))
	digestWriteU64(h, tmp, uint64(st.MaxCount))
	keys := st.Attributes.Keys()
	digestWriteU64(h, tmp, uint64(len(keys)))
	for _, k := range keys {
		digestWriteString(h, tmp, k)
		digestWriteString(h, tmp, st.Attributes[k])
	}
}

func digestWriteU64(h hash.Hash, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteString(h hash.Hash, tmp *[8]byte, s string) {
	digestWriteU64(h, tmp, uint64(len(s)))
	h.Write([]byte(s))
}
