package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"voxelinv.ai/internal/protocol"
	"voxelinv.ai/internal/sim/encoding"
	"voxelinv.ai/internal/sim/world"
)

// outQueue bounds the messages buffered per session. The world drops a
// session whose queue overflows.
const outQueue = 256

type Server struct {
	world *world.World
	log   *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, logger *log.Logger) *Server {
	s := &Server{
		world: w,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess, ok := s.handshake(conn)
		if !ok {
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Control messages written outside the world's queue (ERROR).
		ctrl := make(chan []byte, 8)

		// Writer goroutine.
		go func() {
			defer cancel()
			for {
				var b []byte
				select {
				case <-ctx.Done():
					return
				case <-sess.done:
					s.printf("ws: session %s dropped by world", sess.agentID)
					_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "session dropped"), time.Now().Add(time.Second))
					_ = conn.Close()
					return
				case b = <-sess.out:
				case b = <-ctrl:
				}
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					_ = conn.Close()
					return
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if closed(sess.done) {
				break
			}
			env, code, err := decodeIntent(sess.agentID, msg)
			if err != nil {
				sendError(ctrl, code, err.Error())
				continue
			}
			select {
			case s.world.Inbox() <- env:
			case <-sess.done:
			default:
				sendError(ctrl, protocol.ErrWorldBusy, "inbox full")
			}
		}

		// A session the world already dropped is detached.
		if !closed(sess.done) {
			s.world.Leave() <- world.LeaveRequest{AgentID: sess.agentID, SessionID: sess.sessionID}
		}
	}
}

type session struct {
	agentID   string
	sessionID string
	out       chan []byte
	done      <-chan struct{}
}

func (s *Server) handshake(conn *websocket.Conn) (session, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return session{}, false
	}

	base, err := protocol.Validate(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return session{}, false
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return session{}, false
	}
	if !supportsVersion(hello) {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return session{}, false
	}

	resumeToken := ""
	if hello.Auth != nil {
		resumeToken = strings.TrimSpace(hello.Auth.Token)
	}

	out := make(chan []byte, outQueue)
	respCh := make(chan world.JoinResponse, 1)
	s.world.Join() <- world.JoinRequest{
		Name:        hello.AgentName,
		ResumeToken: resumeToken,
		Out:         out,
		Resp:        respCh,
	}
	resp := <-respCh
	if resp.Err != "" {
		_ = writeJSON(conn, errorMsg(protocol.ErrInternal, resp.Err))
		return session{}, false
	}

	// WELCOME goes out before anything the world queued for the session.
	if err := writeJSON(conn, resp.Welcome); err != nil {
		return session{}, false
	}
	s.printf("ws: agent %s joined session=%s", resp.Welcome.AgentID, resp.Welcome.SessionID)
	return session{
		agentID:   resp.Welcome.AgentID,
		sessionID: resp.Welcome.SessionID,
		out:       out,
		done:      resp.Done,
	}, true
}

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func supportsVersion(h protocol.HelloMsg) bool {
	if h.ProtocolVersion == protocol.Version {
		return true
	}
	for _, v := range h.SupportedVersions {
		if v == protocol.Version {
			return true
		}
	}
	return false
}

// decodeIntent validates one client message and maps it onto an intent
// envelope attributed to agentID.
func decodeIntent(agentID string, msg []byte) (world.IntentEnvelope, string, error) {
	base, err := protocol.Validate(msg)
	if err != nil {
		return world.IntentEnvelope{}, protocol.ErrProtoBadRequest, err
	}
	if !protocol.IsIntent(base.Type) {
		return world.IntentEnvelope{}, protocol.ErrProtoBadRequest, fmt.Errorf("unexpected message type %s", base.Type)
	}
	changeID, in, err := encoding.IntentFromWire(base.Type, msg)
	if err != nil {
		return world.IntentEnvelope{}, protocol.ErrProtoBadRequest, err
	}
	return world.IntentEnvelope{AgentID: agentID, ChangeID: changeID, Intent: in}, "", nil
}

func errorMsg(code, message string) protocol.ErrorMsg {
	return protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Message:         message,
	}
}

func sendError(ch chan<- []byte, code, message string) {
	b, err := json.Marshal(errorMsg(code, message))
	if err != nil {
		return
	}
	select {
	case ch <- b:
	default:
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Server) printf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}
