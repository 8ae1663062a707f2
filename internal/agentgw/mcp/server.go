// Package mcp exposes agent inventory sessions as MCP-style JSON-RPC tools.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"voxelinv.ai/internal/agentgw/bridge"
)

const protocolVersion = "2024-11-05"

type Bridge interface {
	GetStatus(ctx context.Context, sessionKey string) (bridge.Status, error)
	GetInventories(ctx context.Context, sessionKey string, opts bridge.GetInventoriesOpts) (bridge.InventoriesResult, error)
	Move(ctx context.Context, sessionKey string, args bridge.MoveArgs) (bridge.MoveResult, error)
	Disconnect(ctx context.Context, sessionKey string) error
}

type Config struct {
	Bridge Bridge
	// HMACSecret enables signed requests. Without it only loopback clients
	// are served.
	HMACSecret      string
	AllowLegacyHMAC bool
	Logger          *log.Logger
}

type tool struct {
	name        string
	description string
	inputSchema map[string]any
	schema      *jsonschema.Schema
}

type Server struct {
	bridge Bridge
	auth   *authenticator
	tools  []*tool
	byName map[string]*tool
	logger *log.Logger
	now    func() time.Time
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Bridge == nil {
		return nil, fmt.Errorf("nil bridge")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	tools, err := compileTools(toolDescriptors())
	if err != nil {
		return nil, err
	}
	s := &Server{
		bridge: cfg.Bridge,
		tools:  tools,
		byName: make(map[string]*tool, len(tools)),
		logger: logger,
		now:    time.Now,
	}
	for _, t := range tools {
		s.byName[t.name] = t
	}
	if strings.TrimSpace(cfg.HMACSecret) != "" {
		s.auth = &authenticator{
			secret:      []byte(cfg.HMACSecret),
			allowLegacy: cfg.AllowLegacyHMAC,
			replay:      newReplayGuard(0),
		}
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/mcp", s.handleMCP)
	return mux
}

func (s *Server) handleMCP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(rw, "bad body", http.StatusBadRequest)
		return
	}
	_ = r.Body.Close()

	sessionKey := strings.TrimSpace(r.Header.Get(headerAgentID))
	if s.auth != nil {
		ar := s.auth.verify(r, body, s.now())
		if ar.HTTPStatus != 0 {
			s.logger.Printf("mcp auth denied remote=%s status=%d reason=%s", r.RemoteAddr, ar.HTTPStatus, ar.Message)
			http.Error(rw, ar.Message, ar.HTTPStatus)
			return
		}
		sessionKey = ar.SessionKey
	} else if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden: non-loopback client", http.StatusForbidden)
		return
	}
	if sessionKey == "" {
		sessionKey = "default"
	}

	req, err := parseRPCRequest(body)
	if err != nil {
		http.Error(rw, "bad jsonrpc request", http.StatusBadRequest)
		return
	}

	resp := s.dispatch(r.Context(), sessionKey, req)
	rw.Header().Set("content-type", "application/json")
	_ = json.NewEncoder(rw).Encode(resp)
}

func (s *Server) dispatch(ctx context.Context, sessionKey string, req rpcRequest) rpcResponse {
	switch req.Method {
	case "initialize":
		return rpcOK(req.ID, map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]any{
				"tools": map[string]any{"listChanged": false},
			},
			"serverInfo": map[string]any{"name": "voxelinv-mcp"},
		})

	case "list_tools", "tools/list":
		out := make([]map[string]any, 0, len(s.tools))
		for _, t := range s.tools {
			out = append(out, map[string]any{
				"name":        t.name,
				"description": t.description,
				"inputSchema": t.inputSchema,
			})
		}
		return rpcOK(req.ID, map[string]any{"tools": out})

	case "call_tool", "tools/call":
		var p struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if len(req.Params) == 0 {
			return rpcErr(req.ID, codeInvalidParams, "missing params", nil)
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return rpcErr(req.ID, codeInvalidParams, "bad params", err.Error())
		}
		if p.Name == "" {
			return rpcErr(req.ID, codeInvalidParams, "missing tool name", nil)
		}
		t, ok := s.byName[p.Name]
		if !ok {
			return rpcErr(req.ID, codeMethodNotFound, "tool not found", map[string]any{"name": p.Name})
		}
		if err := t.validate(p.Arguments); err != nil {
			return rpcErr(req.ID, codeInvalidParams, "bad arguments", err.Error())
		}
		out, err := s.callTool(ctx, sessionKey, p.Name, p.Arguments)
		if err != nil {
			return rpcErr(req.ID, codeToolFailed, err.Error(), nil)
		}
		return rpcOK(req.ID, out)

	default:
		return rpcErr(req.ID, codeMethodNotFound, "method not found", nil)
	}
}

func (s *Server) callTool(ctx context.Context, sessionKey, name string, args json.RawMessage) (any, error) {
	switch name {
	case "voxelinv.get_status":
		return s.bridge.GetStatus(ctx, sessionKey)

	case "voxelinv.get_inventories":
		var o bridge.GetInventoriesOpts
		if err := decodeArgs(args, &o); err != nil {
			return nil, err
		}
		return s.bridge.GetInventories(ctx, sessionKey, o)

	case "voxelinv.move":
		var a bridge.MoveArgs
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		return s.bridge.Move(ctx, sessionKey, a)

	case "voxelinv.disconnect":
		if err := s.bridge.Disconnect(ctx, sessionKey); err != nil {
			return nil, err
		}
		return map[string]any{"ok": true}, nil

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

func decodeArgs(args json.RawMessage, v any) error {
	if len(args) == 0 {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("bad arguments: %w", err)
	}
	return nil
}

func (t *tool) validate(args json.RawMessage) error {
	if a := bytes.TrimSpace(args); len(a) == 0 || bytes.Equal(a, []byte("null")) {
		args = json.RawMessage("{}")
	}
	var v any
	if err := json.Unmarshal(args, &v); err != nil {
		return err
	}
	return t.schema.Validate(v)
}

func compileTools(tools []*tool) ([]*tool, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	for _, t := range tools {
		b, err := json.Marshal(t.inputSchema)
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(toolSchemaURL(t.name), bytes.NewReader(b)); err != nil {
			return nil, fmt.Errorf("tool %s: %w", t.name, err)
		}
	}
	for _, t := range tools {
		sch, err := c.Compile(toolSchemaURL(t.name))
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", t.name, err)
		}
		t.schema = sch
	}
	return tools, nil
}

func toolSchemaURL(name string) string {
	return "https://voxelinv.ai/schemas/tools/" + name + ".json"
}

func toolDescriptors() []*tool {
	noArgs := map[string]any{"type": "object", "properties": map[string]any{}, "additionalProperties": false}
	slot := map[string]any{"type": "integer", "minimum": 0}
	return []*tool{
		{
			name:        "voxelinv.get_status",
			description: "Get the session's connection status, agent id and pending move count.",
			inputSchema: noArgs,
		},
		{
			name:        "voxelinv.get_inventories",
			description: "Get the predicted contents of the agent's visible containers (or the server-confirmed baseline).",
			inputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"inventories": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"baseline":    map[string]any{"type": "boolean"},
					"timeout_ms":  map[string]any{"type": "integer", "minimum": 0},
				},
				"additionalProperties": false,
			},
		},
		{
			name:        "voxelinv.move",
			description: "Predict and send one move intent. from/to default to the agent's own inventory.",
			inputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"kind":       map[string]any{"type": "string", "enum": []string{"swap", "amount", "distribute"}},
					"from":       map[string]any{"type": "string"},
					"from_slot":  slot,
					"to":         map[string]any{"type": "string"},
					"to_slot":    slot,
					"amount":     map[string]any{"type": "integer", "minimum": 1},
					"to_slots":   map[string]any{"type": "array", "items": slot, "minItems": 1},
					"wait_ack":   map[string]any{"type": "boolean"},
					"timeout_ms": map[string]any{"type": "integer", "minimum": 0},
				},
				"required":             []string{"kind", "from_slot"},
				"additionalProperties": false,
			},
		},
		{
			name:        "voxelinv.disconnect",
			description: "Disconnect the session's world connection. The resume token is kept.",
			inputSchema: noArgs,
		},
	}
}
