package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voxelinv.ai/internal/client"
	"voxelinv.ai/internal/sim/inventory"
	"voxelinv.ai/internal/sim/item"
	"voxelinv.ai/internal/sim/predict"
)

func main() {
	var (
		url    = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name   = flag.String("name", "bot", "agent name")
		resume = flag.String("resume", "", "resume token from a previous session")
		every  = flag.Duration("every", 250*time.Millisecond, "delay between moves")
		seed   = flag.Int64("seed", 0, "random seed (0 = time based)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	c, err := client.Dial(dialCtx, *url, client.Options{Name: *name, ResumeToken: *resume, Logger: logger})
	cancel()
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer c.Close()

	wel := c.Welcome()
	logger.Printf("joined agent=%s session=%s resume_token=%s inventories=%v", wel.AgentID, wel.SessionID, wel.ResumeToken, wel.Inventories)

	select {
	case <-c.Ready():
	case <-c.Done():
		logger.Fatalf("closed before first state: %v", c.Err())
	case <-ctx.Done():
		return
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(*seed))
	invs := make([]inventory.ID, 0, len(wel.Inventories))
	for _, s := range wel.Inventories {
		invs = append(invs, inventory.ID(s))
	}

	ticker := time.NewTicker(*every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.Done():
			logger.Printf("connection closed: %v", c.Err())
			return
		case ack := <-c.Acks():
			if !ack.Applied {
				logger.Printf("change %d rejected at tick %d: %s", ack.ChangeID, ack.Tick, ack.Code)
			}
		case e := <-c.Errors():
			logger.Printf("server error %s: %s", e.Code, e.Message)
		case <-ticker.C:
			var in inventory.Intent
			var found bool
			c.Do(func(m *predict.Mirror) { in, found = pickMove(rng, m, invs, inventory.Instigator(wel.AgentID)) })
			if !found {
				continue
			}
			changeID, ok, err := c.Issue(in)
			if err != nil {
				logger.Printf("issue: %v", err)
				continue
			}
			logger.Printf("change %d %s %s[%d] -> %s predicted=%v", changeID, in.Kind, in.From, in.FromSlot, in.To, ok)
		}
	}
}

// pickMove chooses a random occupied slot and a random move out of it.
func pickMove(rng *rand.Rand, m *predict.Mirror, invs []inventory.ID, agent inventory.Instigator) (inventory.Intent, bool) {
	if len(invs) == 0 {
		return inventory.Intent{}, false
	}
	from := invs[rng.Intn(len(invs))]
	to := invs[rng.Intn(len(invs))]
	fromN, toN := m.NumSlots(from), m.NumSlots(to)
	if fromN == 0 || toN == 0 {
		return inventory.Intent{}, false
	}

	fromSlot := -1
	for _, s := range rng.Perm(fromN) {
		if m.ItemInSlot(from, s) != item.NoID {
			fromSlot = s
			break
		}
	}
	if fromSlot < 0 {
		return inventory.Intent{}, false
	}

	switch rng.Intn(3) {
	case 0:
		return inventory.Swap(agent, from, fromSlot, to, rng.Intn(toN)), true
	case 1:
		size := m.StackSize(m.ItemInSlot(from, fromSlot))
		if size < 2 {
			return inventory.Swap(agent, from, fromSlot, to, rng.Intn(toN)), true
		}
		return inventory.Amount(agent, from, fromSlot, to, rng.Intn(toN), 1+rng.Int31n(size-1)), true
	default:
		return inventory.Distribute(agent, from, fromSlot, to, rng.Perm(toN)), true
	}
}
