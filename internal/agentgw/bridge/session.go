package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"voxelinv.ai/internal/client"
	"voxelinv.ai/internal/protocol"
	"voxelinv.ai/internal/sim/encoding"
	"voxelinv.ai/internal/sim/inventory"
	"voxelinv.ai/internal/sim/predict"
)

// ackHistory bounds how many acks a session remembers for wait_ack.
const ackHistory = 256

type SessionConfig struct {
	Key         string
	WorldWSURL  string
	ResumeToken string
	AgentIDHint string
	Logger      *log.Logger
}

type sessionUpdate struct {
	ResumeToken     string
	AgentID         string
	LastConnectedAt time.Time
}

type onUpdateFn func(key string, upd sessionUpdate)

type Session struct {
	cfg      SessionConfig
	onUpdate onUpdateFn
	logger   *log.Logger

	mu sync.RWMutex

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}

	paused       bool
	resumeNotify chan struct{}

	connected bool
	lastErr   string

	cli         *client.Client
	agentID     string
	resumeToken string
	welcome     protocol.WelcomeMsg

	acks     map[uint64]protocol.InvAckMsg
	ackOrder []uint64
	// ackCh is closed and replaced whenever an ack arrives.
	ackCh chan struct{}

	lastUsedAt time.Time
}

func NewSession(cfg SessionConfig, onUpdate onUpdateFn) *Session {
	if cfg.Key == "" {
		cfg.Key = "default"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Session{
		cfg:          cfg,
		onUpdate:     onUpdate,
		logger:       logger,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		resumeNotify: make(chan struct{}, 1),
		agentID:      cfg.AgentIDHint,
		resumeToken:  cfg.ResumeToken,
		acks:         map[uint64]protocol.InvAckMsg{},
		ackCh:        make(chan struct{}),
		lastUsedAt:   time.Now(),
	}
}

func (s *Session) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		// A session that never started has no run loop to close done.
		s.startOnce.Do(func() { close(s.done) })
		s.Disconnect()
		<-s.done
	})
}

// Disconnect drops the current connection; the run loop reconnects.
func (s *Session) Disconnect() {
	s.mu.Lock()
	c := s.cli
	s.cli = nil
	s.connected = false
	s.mu.Unlock()
	if c != nil {
		_ = c.Close()
	}
}

// DisconnectAndPause drops the connection and keeps it down until
// ResumeReconnect.
func (s *Session) DisconnectAndPause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	s.Disconnect()
}

func (s *Session) ResumeReconnect() {
	s.mu.Lock()
	was := s.paused
	s.paused = false
	s.mu.Unlock()
	if was {
		select {
		case s.resumeNotify <- struct{}{}:
		default:
		}
	}
}

func (s *Session) LastUsedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUsedAt
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastUsedAt = time.Now()
	s.mu.Unlock()
}

func (s *Session) Status() Status {
	s.touch()
	s.mu.RLock()
	cli := s.cli
	st := Status{
		Connected:   s.connected,
		Paused:      s.paused,
		AgentID:     s.agentID,
		SessionID:   s.welcome.SessionID,
		ResumeToken: s.resumeToken,
		WorldWSURL:  s.cfg.WorldWSURL,
		Inventories: append([]string(nil), s.welcome.Inventories...),
		ItemDigest:  s.welcome.ItemDigest,
		LastError:   s.lastErr,
	}
	s.mu.RUnlock()

	if cli != nil {
		st.Tick = cli.Tick()
		cli.Do(func(m *predict.Mirror) { st.Pending = m.Pending().Len() })
	}
	return st
}

func (s *Session) GetInventories(ctx context.Context, opts GetInventoriesOpts) (InventoriesResult, error) {
	s.touch()
	cli, err := s.readyClient(ctx, timeoutOr(opts.TimeoutMS, 2*time.Second))
	if err != nil {
		return InventoriesResult{}, err
	}

	ids := make([]inventory.ID, 0, len(opts.Inventories))
	for _, id := range opts.Inventories {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, inventory.ID(id))
		}
	}

	var states []inventory.ContainerState
	var pending []uint64
	cli.Do(func(m *predict.Mirror) {
		view := m.View()
		if opts.Baseline {
			view = m.Baseline()
		}
		states = view.Export(ids...)
		pending = m.Pending().ChangeIDs()
	})
	if pending == nil {
		pending = []uint64{}
	}
	return InventoriesResult{
		Tick:             cli.Tick(),
		AgentID:          cli.AgentID(),
		PendingChangeIDs: pending,
		Inventories:      encoding.InventoriesToWire(states),
	}, nil
}

func (s *Session) Move(ctx context.Context, args MoveArgs) (MoveResult, error) {
	s.touch()
	timeout := timeoutOr(args.TimeoutMS, 2*time.Second)
	cli, err := s.readyClient(ctx, timeout)
	if err != nil {
		return MoveResult{}, err
	}

	in, err := buildIntent(args, inventory.ID("P:"+cli.AgentID()))
	if err != nil {
		return MoveResult{}, err
	}
	changeID, ok, err := cli.Issue(in)
	if !ok {
		res := MoveResult{Code: "PREDICTION_FAILED", Message: "move is not possible in the predicted view"}
		if err != nil {
			res.Message = err.Error()
		}
		return res, nil
	}
	if err != nil {
		return MoveResult{}, err
	}

	res := MoveResult{ChangeID: changeID, Predicted: true}
	if !args.WaitAck {
		return res, nil
	}
	ack, err := s.waitAck(ctx, changeID, timeout)
	if err != nil {
		return res, err
	}
	res.Acked = true
	res.Applied = ack.Applied
	res.Tick = ack.Tick
	res.Code = ack.Code
	res.Message = ack.Message
	return res, nil
}

func buildIntent(args MoveArgs, own inventory.ID) (inventory.Intent, error) {
	from, to := own, own
	if v := strings.TrimSpace(args.From); v != "" {
		from = inventory.ID(v)
	}
	if v := strings.TrimSpace(args.To); v != "" {
		to = inventory.ID(v)
	}
	switch strings.ToLower(strings.TrimSpace(args.Kind)) {
	case "swap":
		return inventory.Swap("", from, args.FromSlot, to, args.ToSlot), nil
	case "amount":
		if args.Amount <= 0 {
			return inventory.Intent{}, fmt.Errorf("amount must be positive")
		}
		return inventory.Amount("", from, args.FromSlot, to, args.ToSlot, args.Amount), nil
	case "distribute":
		if len(args.ToSlots) == 0 {
			return inventory.Intent{}, fmt.Errorf("to_slots is required for distribute")
		}
		return inventory.Distribute("", from, args.FromSlot, to, args.ToSlots), nil
	default:
		return inventory.Intent{}, fmt.Errorf("unknown move kind: %q", args.Kind)
	}
}

// readyClient waits until the session holds a connection whose initial
// state has arrived.
func (s *Session) readyClient(ctx context.Context, timeout time.Duration) (*client.Client, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	poll := time.NewTicker(25 * time.Millisecond)
	defer poll.Stop()
	for {
		s.mu.RLock()
		cli, lastErr := s.cli, s.lastErr
		s.mu.RUnlock()
		if cli != nil {
			select {
			case <-cli.Ready():
				return cli, nil
			default:
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			if lastErr != "" {
				return nil, fmt.Errorf("not connected: %s", lastErr)
			}
			return nil, fmt.Errorf("not connected")
		case <-poll.C:
		}
	}
}

func (s *Session) waitAck(ctx context.Context, changeID uint64, timeout time.Duration) (protocol.InvAckMsg, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		s.mu.RLock()
		ack, ok := s.acks[changeID]
		ch := s.ackCh
		s.mu.RUnlock()
		if ok {
			return ack, nil
		}
		select {
		case <-ctx.Done():
			return protocol.InvAckMsg{}, ctx.Err()
		case <-deadline.C:
			return protocol.InvAckMsg{}, fmt.Errorf("timeout waiting for ack of change %d", changeID)
		case <-ch:
		}
	}
}

func (s *Session) recordAck(ack protocol.InvAckMsg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.acks[ack.ChangeID]; !ok {
		s.ackOrder = append(s.ackOrder, ack.ChangeID)
		if len(s.ackOrder) > ackHistory {
			delete(s.acks, s.ackOrder[0])
			s.ackOrder = s.ackOrder[1:]
		}
	}
	s.acks[ack.ChangeID] = ack
	close(s.ackCh)
	s.ackCh = make(chan struct{})
}

func (s *Session) run() {
	defer close(s.done)

	backoff := 200 * time.Millisecond
	for {
		if !s.waitUnpaused() {
			return
		}
		err := s.connectAndPump()
		select {
		case <-s.stop:
			return
		default:
		}
		if err == nil {
			backoff = 200 * time.Millisecond
			continue
		}

		s.mu.Lock()
		s.connected = false
		s.lastErr = err.Error()
		s.mu.Unlock()
		s.logger.Printf("bridge session=%s: %v (retry in %s)", s.cfg.Key, err, backoff)
		select {
		case <-s.stop:
			return
		case <-time.After(backoff):
		}
		if backoff < 5*time.Second {
			backoff *= 2
			if backoff > 5*time.Second {
				backoff = 5 * time.Second
			}
		}
	}
}

// waitUnpaused blocks while the session is paused. It reports false once
// the session is closed.
func (s *Session) waitUnpaused() bool {
	for {
		s.mu.RLock()
		paused := s.paused
		s.mu.RUnlock()
		if !paused {
			select {
			case <-s.stop:
				return false
			default:
				return true
			}
		}
		select {
		case <-s.stop:
			return false
		case <-s.resumeNotify:
		}
	}
}

// connectAndPump dials the world and forwards acks and errors into the
// session until the connection ends. A nil error means the connection was
// closed on purpose.
func (s *Session) connectAndPump() error {
	s.mu.RLock()
	rt := strings.TrimSpace(s.resumeToken)
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	cli, err := client.Dial(ctx, s.cfg.WorldWSURL, client.Options{Name: s.cfg.Key, ResumeToken: rt, Logger: s.logger})
	cancel()
	if err != nil {
		return err
	}

	w := cli.Welcome()
	now := time.Now()
	s.mu.Lock()
	if s.paused {
		s.mu.Unlock()
		_ = cli.Close()
		return nil
	}
	s.cli = cli
	s.welcome = w
	s.agentID = w.AgentID
	s.resumeToken = w.ResumeToken
	s.connected = true
	s.lastErr = ""
	s.mu.Unlock()
	s.logger.Printf("bridge session=%s connected agent=%s", s.cfg.Key, w.AgentID)
	if s.onUpdate != nil {
		s.onUpdate(s.cfg.Key, sessionUpdate{ResumeToken: w.ResumeToken, AgentID: w.AgentID, LastConnectedAt: now})
	}

	for {
		select {
		case <-s.stop:
			_ = cli.Close()
			return nil
		case ack := <-cli.Acks():
			s.recordAck(ack)
		case em := <-cli.Errors():
			s.mu.Lock()
			s.lastErr = em.Code + ": " + em.Message
			s.mu.Unlock()
		case <-cli.Done():
			s.mu.Lock()
			intentional := s.cli != cli
			if !intentional {
				s.cli = nil
				s.connected = false
			}
			s.mu.Unlock()
			if intentional {
				return nil
			}
			if err := cli.Err(); err != nil {
				return err
			}
			return errors.New("connection closed by server")
		}
	}
}

func timeoutOr(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
