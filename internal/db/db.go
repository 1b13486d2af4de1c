// Package db owns the on-disk workspace layout and opens the sqlite memory.
//
//	<root>/herald.yml          agent config
//	<root>/.herald/herald.db   tasks, goals, decisions, events
package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	stateDirName   = ".herald"
	dbFileName     = "herald.db"
	configFileName = "herald.yml"

	defaultBusyTimeout = 5 * time.Second
)

// Workspace is a workspace root directory. The zero value is the current
// directory.
type Workspace string

func (w Workspace) Root() string {
	if w == "" {
		return "."
	}
	return string(w)
}

// StateDir holds files the agent writes itself.
func (w Workspace) StateDir() string {
	return filepath.Join(w.Root(), stateDirName)
}

func (w Workspace) DBPath() string {
	return filepath.Join(w.StateDir(), dbFileName)
}

// ConfigPath is user-edited and lives next to the state dir, not inside it.
func (w Workspace) ConfigPath() string {
	return filepath.Join(w.Root(), configFileName)
}

// Ensure creates the state dir if missing and returns it.
func (w Workspace) Ensure() (string, error) {
	dir := w.StateDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace %s: %w", dir, err)
	}
	return dir, nil
}

type Config struct {
	Workspace string
	// BusyTimeout bounds how long a writer waits on a lock held by another
	// process. Zero means 5s.
	BusyTimeout time.Duration
}

func (c Config) dsn() string {
	busy := c.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	return "file:" + Workspace(c.Workspace).DBPath() + "?" + q.Encode()
}

// Open opens the workspace database, creating the state dir on first use.
// The agent loops share one connection so writers serialize instead of
// hitting SQLITE_BUSY.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := Workspace(cfg.Workspace).Ensure(); err != nil {
		return nil, err
	}
	conn, err := sql.Open("sqlite", cfg.dsn())
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open %s: %w", Workspace(cfg.Workspace).DBPath(), err)
	}
	return conn, nil
}
