// Package models defines the GORM-tagged persistence rows for runs, run
// nodes, and registered tool servers (§6), grounded on the teacher's
// domain/models/execution.go Execution/NodeExecution rows.
package models

import "time"

// Run is one workflow execution instance.
type Run struct {
	ID         string `gorm:"primaryKey"`
	WorkflowID string `gorm:"index"`
	TenantID   string `gorm:"index"`
	Status     string `gorm:"size:20;index"` // pending, running, completed, failed, cancelled

	Definition JSON `gorm:"type:jsonb"` // the workflow document this run was started from
	Variables  JSON `gorm:"type:jsonb"`
	Error      string

	CreatedAt time.Time
	UpdatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time

	Nodes []RunNode `gorm:"foreignKey:RunID"`
}

// RunNode is one node's persisted execution state within a run, the unit
// upsertRunNode writes and loadRunNodes reads back for resume (§6).
type RunNode struct {
	ID     uint   `gorm:"primaryKey"`
	RunID  string `gorm:"index:idx_run_node,unique,priority:1"`
	NodeID string `gorm:"index:idx_run_node,unique,priority:2"`

	Status   string `gorm:"size:20;index"` // pending, running, completed, failed, waiting_approval
	Attempts int

	Output    JSON `gorm:"type:jsonb"`
	Error     string
	InputHash string // detects whether resolved input changed since last attempt

	StartedAt *time.Time
	EndedAt   *time.Time
	UpdatedAt time.Time
}

// RegisteredServer is one tool server's persisted connection configuration
// and last-known status, recovered on startup (§4.5, §6).
type RegisteredServer struct {
	ID       string `gorm:"primaryKey"`
	TenantID string `gorm:"index"`

	Transport string // stdio, http, websocket
	Command   string
	Args      JSONArray `gorm:"type:jsonb"`
	URL       string
	Header    JSON      `gorm:"type:jsonb"`

	Status    string
	LastError string

	// Name, ServerInfo, and Tools are populated from the `initialize`
	// handshake (and refreshed on tools/list_changed); Tools is the cache
	// startup recovery falls back on while a server is unreachable (§4.5, §6).
	Name        string
	ServerInfo  JSON      `gorm:"type:jsonb"`
	Tools       JSONArray `gorm:"type:jsonb"`
	ConnectedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
