package mcp

import (
	"sync"
	"time"
)

const (
	replayPruneAbove = 4096
	replayHardCap    = 65536
)

// replayGuard remembers accepted signatures per agent for ttl so a captured
// request cannot be sent twice inside the signature window.
type replayGuard struct {
	mu        sync.Mutex
	seen      map[string]int64
	ttl       time.Duration
	lastPrune int64
}

func newReplayGuard(ttl time.Duration) *replayGuard {
	if ttl <= 0 {
		ttl = 2 * signatureWindow
	}
	return &replayGuard{seen: map[string]int64{}, ttl: ttl}
}

func (g *replayGuard) allow(sessionKey, signature string, now time.Time) bool {
	if g == nil || signature == "" {
		return true
	}
	key := sessionKey + "|" + signature
	nowMS := now.UnixMilli()
	expiresAt := nowMS + g.ttl.Milliseconds()

	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.seen) > replayPruneAbove || (len(g.seen) > 0 && nowMS-g.lastPrune > g.ttl.Milliseconds()/2) {
		for k, exp := range g.seen {
			if exp <= nowMS {
				delete(g.seen, k)
			}
		}
		g.lastPrune = nowMS
	}
	if exp, ok := g.seen[key]; ok && exp > nowMS {
		return false
	}
	g.seen[key] = expiresAt
	if len(g.seen) > replayHardCap {
		g.seen = map[string]int64{key: expiresAt}
		g.lastPrune = nowMS
	}
	return true
}
