package main

import (
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// dbQuery holds the filters shared by all index queries.
type dbQuery struct {
	Agent     string
	Inventory string
	Slot      int
	StackID   string
	Limit     int
}

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	agent := fs.String("agent", "", "agent id filter (intents, audits)")
	inv := fs.String("inventory", "", "inventory id filter (audits, slots)")
	slot := fs.Int("slot", -1, "slot filter (audits, with -inventory)")
	stackID := fs.String("stack", "", "stack id filter (slots)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "worlds", *worldID, "index", "world.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	opts := dbQuery{Agent: *agent, Inventory: *inv, Slot: *slot, StackID: *stackID, Limit: *limit}
	if err := runDBQuery(os.Stdout, db, q, opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if strings.HasPrefix(err.Error(), "unknown query") {
			fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data] [-world WORLD|-db PATH] snapshots|ticks|intents|audits|agents|slots")
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func runDBQuery(out io.Writer, db *sql.DB, q string, o dbQuery) error {
	if o.Limit <= 0 {
		o.Limit = 20
	}
	switch q {
	case "snapshots":
		type row struct {
			Tick       int64  `json:"tick"`
			Path       string `json:"path"`
			Agents     int    `json:"agents"`
			Containers int    `json:"containers"`
			Items      int    `json:"items"`
		}
		return queryRows(out, db, `SELECT tick,path,agents,containers,items FROM snapshots ORDER BY tick DESC LIMIT ?`,
			[]any{o.Limit}, func(rs *sql.Rows) (any, error) {
				var r row
				err := rs.Scan(&r.Tick, &r.Path, &r.Agents, &r.Containers, &r.Items)
				return r, err
			})

	case "ticks":
		type row struct {
			Tick    int64  `json:"tick"`
			Digest  string `json:"digest"`
			Joins   int    `json:"joins"`
			Leaves  int    `json:"leaves"`
			Intents int    `json:"intents"`
		}
		return queryRows(out, db, `SELECT tick,digest,joins,leaves,intents FROM ticks ORDER BY tick DESC LIMIT ?`,
			[]any{o.Limit}, func(rs *sql.Rows) (any, error) {
				var r row
				err := rs.Scan(&r.Tick, &r.Digest, &r.Joins, &r.Leaves, &r.Intents)
				return r, err
			})

	case "intents":
		type row struct {
			Tick     int64  `json:"tick"`
			AgentID  string `json:"agent_id"`
			ChangeID int64  `json:"change_id"`
			Kind     string `json:"kind"`
			From     string `json:"from"`
			To       string `json:"to"`
			Applied  bool   `json:"applied"`
			Code     string `json:"code,omitempty"`
		}
		query := `SELECT tick,agent_id,change_id,kind,src,dst,applied,COALESCE(code,'') FROM intents`
		var args []any
		if o.Agent != "" {
			query += ` WHERE agent_id=?`
			args = append(args, o.Agent)
		}
		query += ` ORDER BY tick DESC, seq DESC LIMIT ?`
		args = append(args, o.Limit)
		return queryRows(out, db, query, args, func(rs *sql.Rows) (any, error) {
			var r row
			err := rs.Scan(&r.Tick, &r.AgentID, &r.ChangeID, &r.Kind, &r.From, &r.To, &r.Applied, &r.Code)
			return r, err
		})

	case "audits":
		type row struct {
			Tick      int64  `json:"tick"`
			Actor     string `json:"actor"`
			Action    string `json:"action"`
			Inventory string `json:"inventory"`
			Slot      int    `json:"slot"`
			FromItem  int64  `json:"from_item,omitempty"`
			ToItem    int64  `json:"to_item,omitempty"`
			FromCount int    `json:"from_count,omitempty"`
			ToCount   int    `json:"to_count,omitempty"`
		}
		var where []string
		var args []any
		if o.Agent != "" {
			where = append(where, "actor=?")
			args = append(args, o.Agent)
		}
		if o.Inventory != "" {
			where = append(where, "inventory=?")
			args = append(args, o.Inventory)
			if o.Slot >= 0 {
				where = append(where, "slot=?")
				args = append(args, o.Slot)
			}
		}
		query := `SELECT tick,actor,action,inventory,slot,from_item,to_item,from_count,to_count FROM audits`
		if len(where) > 0 {
			query += ` WHERE ` + strings.Join(where, " AND ")
		}
		query += ` ORDER BY tick DESC, seq DESC LIMIT ?`
		args = append(args, o.Limit)
		return queryRows(out, db, query, args, func(rs *sql.Rows) (any, error) {
			var r row
			err := rs.Scan(&r.Tick, &r.Actor, &r.Action, &r.Inventory, &r.Slot, &r.FromItem, &r.ToItem, &r.FromCount, &r.ToCount)
			return r, err
		})

	case "agents":
		type row struct {
			Tick      int64  `json:"tick"`
			AgentID   string `json:"agent_id"`
			Name      string `json:"name"`
			Inventory string `json:"inventory"`
			Transfer  string `json:"transfer"`
		}
		return queryRows(out, db, `SELECT tick,agent_id,name,inventory,transfer FROM agent_state ORDER BY agent_id LIMIT ?`,
			[]any{o.Limit}, func(rs *sql.Rows) (any, error) {
				var r row
				err := rs.Scan(&r.Tick, &r.AgentID, &r.Name, &r.Inventory, &r.Transfer)
				return r, err
			})

	case "slots":
		type row struct {
			Tick       int64  `json:"tick"`
			Inventory  string `json:"inventory"`
			Slot       int    `json:"slot"`
			Owner      string `json:"owner,omitempty"`
			Item       int64  `json:"item"`
			StackID    string `json:"stack_id"`
			Count      int    `json:"count"`
			MaxCount   int    `json:"max_count"`
			Attributes string `json:"attributes_json,omitempty"`
		}
		var where []string
		var args []any
		if o.Inventory != "" {
			where = append(where, "inventory=?")
			args = append(args, o.Inventory)
		}
		if o.StackID != "" {
			where = append(where, "stack_id=?")
			args = append(args, o.StackID)
		}
		query := `SELECT tick,inventory,slot,owner,item,stack_id,count,max_count,COALESCE(attributes_json,'') FROM slot_state`
		if len(where) > 0 {
			query += ` WHERE ` + strings.Join(where, " AND ")
		}
		query += ` ORDER BY inventory, slot LIMIT ?`
		args = append(args, o.Limit)
		return queryRows(out, db, query, args, func(rs *sql.Rows) (any, error) {
			var r row
			err := rs.Scan(&r.Tick, &r.Inventory, &r.Slot, &r.Owner, &r.Item, &r.StackID, &r.Count, &r.MaxCount, &r.Attributes)
			return r, err
		})

	default:
		return fmt.Errorf("unknown query: %s", q)
	}
}

func queryRows(out io.Writer, db *sql.DB, query string, args []any, scan func(*sql.Rows) (any, error)) error {
	rows, err := db.Query(query, args...)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		printJSON(out, v)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows: %w", err)
	}
	return nil
}
