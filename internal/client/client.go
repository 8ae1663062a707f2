// Package client connects to a world over websocket and keeps a predicting
// inventory mirror in sync with it.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voxelinv.ai/internal/protocol"
	"voxelinv.ai/internal/sim/encoding"
	"voxelinv.ai/internal/sim/inventory"
	"voxelinv.ai/internal/sim/predict"
)

// maxCatchUp bounds how many ticks one message may advance the mirror clock.
const maxCatchUp = 1024

type Options struct {
	Name        string
	ResumeToken string
	// Bus receives change notifications for the predicted view.
	Bus    *inventory.Bus
	Logger *log.Logger
}

type Client struct {
	conn    *websocket.Conn
	logger  *log.Logger
	welcome protocol.WelcomeMsg

	// mu serializes access to the mirror between the read loop and callers.
	mu       sync.Mutex
	mirror   *predict.Mirror
	lastTick uint64
	haveTick bool

	writeMu sync.Mutex

	acks      chan protocol.InvAckMsg
	errs      chan protocol.ErrorMsg
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}

	errMu  sync.Mutex
	err    error
	closed sync.Once
}

// Dial performs the HELLO/WELCOME handshake and starts the read loop.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	if opts.Name == "" {
		opts.Name = "client"
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		AgentName:       opts.Name,
	}
	if opts.ResumeToken != "" {
		hello.Auth = &protocol.HelloAuth{Token: opts.ResumeToken}
	}
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send HELLO: %w", err)
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(dl)
	} else {
		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	}
	_, b, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("read WELCOME: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	base, err := protocol.Validate(b)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("WELCOME: %w", err)
	}
	if base.Type != protocol.TypeWelcome {
		_ = conn.Close()
		return nil, fmt.Errorf("expected WELCOME, got %s", base.Type)
	}
	var welcome protocol.WelcomeMsg
	if err := json.Unmarshal(b, &welcome); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("WELCOME: %w", err)
	}

	c := &Client{
		conn:    conn,
		logger:  opts.Logger,
		welcome: welcome,
		acks:    make(chan protocol.InvAckMsg, 256),
		errs:    make(chan protocol.ErrorMsg, 16),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	bus := opts.Bus
	if bus == nil {
		bus = inventory.NewBus()
	}
	cfg := predict.Config{MaxPending: welcome.Prediction.MaxPending, MaxAgeTicks: welcome.Prediction.MaxAgeTicks}
	c.mirror = predict.New(nil, nil, bus, predict.SenderFunc(c.sendIntent), cfg, opts.Logger)

	go c.readLoop()
	return c, nil
}

func (c *Client) Welcome() protocol.WelcomeMsg { return c.welcome }
func (c *Client) AgentID() string              { return c.welcome.AgentID }

// Acks delivers every INV_ACK after the mirror has processed it. Acks are
// dropped when nobody reads them.
func (c *Client) Acks() <-chan protocol.InvAckMsg { return c.acks }

// Errors delivers ERROR messages from the server.
func (c *Client) Errors() <-chan protocol.ErrorMsg { return c.errs }

// Ready is closed once the first INV_STATE has been applied.
func (c *Client) Ready() <-chan struct{} { return c.ready }

// Done is closed when the connection ends; Err reports why.
func (c *Client) Done() <-chan struct{} { return c.done }

// Tick is the latest server tick seen on the connection.
func (c *Client) Tick() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTick
}

func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Do runs fn with exclusive access to the mirror. fn must not retain it.
func (c *Client) Do(fn func(m *predict.Mirror)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.mirror)
}

// Issue predicts and sends one intent.
func (c *Client) Issue(in inventory.Intent) (changeID uint64, ok bool, err error) {
	c.Do(func(m *predict.Mirror) {
		changeID, ok, err = m.Issue(in)
	})
	return changeID, ok, err
}

func (c *Client) Close() error {
	var err error
	c.closed.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	<-c.done
	return err
}

func (c *Client) sendIntent(changeID uint64, in inventory.Intent) error {
	msg, err := encoding.IntentToWire(changeID, in)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(msg)
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, b, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && !errors.Is(err, websocket.ErrCloseSent) {
				c.setErr(err)
			}
			return
		}
		if err := c.handle(b); err != nil {
			c.logger.Printf("client %s: %v", c.welcome.AgentID, err)
		}
	}
}

func (c *Client) handle(b []byte) error {
	base, err := protocol.DecodeBase(b)
	if err != nil {
		return err
	}
	switch base.Type {
	case protocol.TypeInvState:
		var msg protocol.InvStateMsg
		if err := json.Unmarshal(b, &msg); err != nil {
			return fmt.Errorf("INV_STATE: %w", err)
		}
		states, err := encoding.InventoriesFromWire(msg.Inventories)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.advance(msg.Tick)
		err = c.mirror.ApplyState(states)
		c.mu.Unlock()
		if err != nil {
			return err
		}
		c.readyOnce.Do(func() { close(c.ready) })
		return nil

	case protocol.TypeInvAck:
		var ack protocol.InvAckMsg
		if err := json.Unmarshal(b, &ack); err != nil {
			return fmt.Errorf("INV_ACK: %w", err)
		}
		c.mu.Lock()
		c.advance(ack.Tick)
		c.mirror.Acknowledge(ack.ChangeID)
		c.mu.Unlock()
		select {
		case c.acks <- ack:
		default:
		}
		return nil

	case protocol.TypeError:
		var em protocol.ErrorMsg
		if err := json.Unmarshal(b, &em); err != nil {
			return fmt.Errorf("ERROR: %w", err)
		}
		c.logger.Printf("client %s: server error %s: %s", c.welcome.AgentID, em.Code, em.Message)
		select {
		case c.errs <- em:
		default:
		}
		return nil

	default:
		return fmt.Errorf("unexpected message %s", base.Type)
	}
}

// advance moves the mirror clock to the server tick. Callers hold mu.
func (c *Client) advance(tick uint64) {
	if !c.haveTick {
		c.lastTick, c.haveTick = tick, true
		return
	}
	for n := 0; c.lastTick < tick && n < maxCatchUp; n++ {
		c.mirror.Advance()
		c.lastTick++
	}
	if c.lastTick < tick {
		c.lastTick = tick
	}
}

func (c *Client) setErr(err error) {
	c.errMu.Lock()
	c.err = err
	c.errMu.Unlock()
}
