// Package bridge keeps one world connection per agent session for the MCP
// gateway. Sessions reconnect on their own and persist resume tokens so a
// restarted gateway gets the same agents back.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"time"
)

type Config struct {
	WorldWSURL  string
	StateFile   string
	MaxSessions int
	Logger      *log.Logger
}

type Manager struct {
	cfg Config

	mu       sync.Mutex
	sessions map[string]*Session
	state    map[string]persistedSession

	closed bool
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.WorldWSURL == "" {
		return nil, fmt.Errorf("empty world ws url")
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}

	st, err := loadStateFile(cfg.StateFile)
	if err != nil {
		return nil, err
	}
	return &Manager{
		cfg:      cfg,
		sessions: map[string]*Session{},
		state:    st,
	}, nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	return nil
}

func (m *Manager) GetStatus(ctx context.Context, sessionKey string) (Status, error) {
	s, err := m.getOrCreateSession(sessionKey)
	if err != nil {
		return Status{}, err
	}
	_ = ctx
	return s.Status(), nil
}

func (m *Manager) GetInventories(ctx context.Context, sessionKey string, opts GetInventoriesOpts) (InventoriesResult, error) {
	s, err := m.getOrCreateSession(sessionKey)
	if err != nil {
		return InventoriesResult{}, err
	}
	s.ResumeReconnect()
	return s.GetInventories(ctx, opts)
}

func (m *Manager) Move(ctx context.Context, sessionKey string, args MoveArgs) (MoveResult, error) {
	s, err := m.getOrCreateSession(sessionKey)
	if err != nil {
		return MoveResult{}, err
	}
	s.ResumeReconnect()
	return s.Move(ctx, args)
}

// Disconnect drops the world connection and keeps the session paused until
// the next inventory call. The resume token is kept.
func (m *Manager) Disconnect(ctx context.Context, sessionKey string) error {
	s, err := m.getOrCreateSession(sessionKey)
	if err != nil {
		return err
	}
	_ = ctx
	s.DisconnectAndPause()
	return nil
}

func (m *Manager) getOrCreateSession(key string) (*Session, error) {
	if key == "" {
		key = "default"
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("bridge manager closed")
	}

	if s := m.sessions[key]; s != nil {
		return s, nil
	}

	// Evict the least recently used session.
	if len(m.sessions) >= m.cfg.MaxSessions {
		var oldestKey string
		var oldest time.Time
		for k, s := range m.sessions {
			t := s.LastUsedAt()
			if oldestKey == "" || t.Before(oldest) {
				oldestKey = k
				oldest = t
			}
		}
		if oldestKey != "" {
			m.cfg.Logger.Printf("bridge evict session=%s", oldestKey)
			go m.sessions[oldestKey].Close()
			delete(m.sessions, oldestKey)
		}
	}

	ps := m.state[key]
	s := NewSession(SessionConfig{
		Key:         key,
		WorldWSURL:  m.cfg.WorldWSURL,
		ResumeToken: ps.ResumeToken,
		AgentIDHint: ps.AgentID,
		Logger:      m.cfg.Logger,
	}, m.onSessionUpdate)
	m.sessions[key] = s
	s.Start()
	return s, nil
}

func (m *Manager) onSessionUpdate(key string, upd sessionUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	ps := m.state[key]
	if upd.ResumeToken != "" {
		ps.ResumeToken = upd.ResumeToken
	}
	if upd.AgentID != "" {
		ps.AgentID = upd.AgentID
	}
	if !upd.LastConnectedAt.IsZero() {
		ps.LastConnectedAt = upd.LastConnectedAt.UTC().Format(time.RFC3339Nano)
	}
	m.state[key] = ps

	// Updates only happen on WELCOME; rewrite the whole file.
	b, _ := json.MarshalIndent(m.state, "", "  ")
	if err := writeFileAtomic(m.cfg.StateFile, append(b, '\n')); err != nil {
		m.cfg.Logger.Printf("bridge state file: %v", err)
	}
}
