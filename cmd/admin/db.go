package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	evType := fs.String("type", "", "event type filter (events)")
	kind := fs.String("kind", "", "command kind filter (commands)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "worlds", *worldID, "index.db")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	switch q {
	case "snapshots":
		rows, err := db.Query(`SELECT tick,path,digest,agents,animals,resources FROM snapshots ORDER BY tick DESC LIMIT ?`, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick      uint64 `json:"tick"`
				Path      string `json:"path"`
				Digest    string `json:"digest"`
				Agents    int    `json:"agents"`
				Animals   int    `json:"animals"`
				Resources int    `json:"resources"`
			}
			if err := rows.Scan(&r.Tick, &r.Path, &r.Digest, &r.Agents, &r.Animals, &r.Resources); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	case "ticks":
		rows, err := db.Query(`SELECT tick,digest,commands,events,step_micros FROM ticks ORDER BY tick DESC LIMIT ?`, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick       uint64 `json:"tick"`
				Digest     string `json:"digest"`
				Commands   int    `json:"commands"`
				Events     int    `json:"events"`
				StepMicros int64  `json:"step_micros"`
			}
			if err := rows.Scan(&r.Tick, &r.Digest, &r.Commands, &r.Events, &r.StepMicros); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	case "commands":
		query := `SELECT tick,seq,kind,COALESCE(origin,''),cmd_json FROM commands ORDER BY tick DESC, seq ASC LIMIT ?`
		qargs := []any{*limit}
		if strings.TrimSpace(*kind) != "" {
			query = `SELECT tick,seq,kind,COALESCE(origin,''),cmd_json FROM commands WHERE kind=? ORDER BY tick DESC, seq ASC LIMIT ?`
			qargs = []any{strings.TrimSpace(*kind), *limit}
		}
		rows, err := db.Query(query, qargs...)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick    uint64          `json:"tick"`
				Seq     int             `json:"seq"`
				Kind    string          `json:"kind"`
				Origin  string          `json:"origin,omitempty"`
				Command json.RawMessage `json:"command"`
			}
			var cmdJSON string
			if err := rows.Scan(&r.Tick, &r.Seq, &r.Kind, &r.Origin, &cmdJSON); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			r.Command = json.RawMessage(cmdJSON)
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	case "events":
		query := `SELECT id,tick,type,COALESCE(payload,'') FROM events ORDER BY id DESC LIMIT ?`
		qargs := []any{*limit}
		if strings.TrimSpace(*evType) != "" {
			query = `SELECT id,tick,type,COALESCE(payload,'') FROM events WHERE type=? ORDER BY id DESC LIMIT ?`
			qargs = []any{strings.TrimSpace(*evType), *limit}
		}
		rows, err := db.Query(query, qargs...)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Cursor  uint64          `json:"cursor"`
				Tick    uint64          `json:"tick"`
				Type    string          `json:"type"`
				Payload json.RawMessage `json:"payload,omitempty"`
			}
			var payload string
			if err := rows.Scan(&r.Cursor, &r.Tick, &r.Type, &payload); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			if payload != "" {
				r.Payload = json.RawMessage(payload)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	case "tuning":
		var r struct {
			Name      string          `json:"name"`
			Digest    string          `json:"digest"`
			UpdatedAt string          `json:"updated_at"`
			Tuning    json.RawMessage `json:"tuning"`
		}
		var tuneJSON string
		row := db.QueryRow(`SELECT name,digest,updated_at,json FROM tuning WHERE name='tuning'`)
		if err := row.Scan(&r.Name, &r.Digest, &r.UpdatedAt, &tuneJSON); err != nil {
			fmt.Fprintln(os.Stderr, "scan:", err)
			os.Exit(1)
		}
		r.Tuning = json.RawMessage(tuneJSON)
		printJSON(r)

	case "meta":
		rows, err := db.Query(`SELECT key,value FROM meta ORDER BY key`)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Key   string `json:"key"`
				Value string `json:"value"`
			}
			if err := rows.Scan(&r.Key, &r.Value); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data] [-world WORLD|-db PATH] [-limit N] [-type T] [-kind K] snapshots|ticks|commands|events|tuning|meta")
		os.Exit(2)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
