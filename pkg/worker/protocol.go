// Package worker implements the stateless remote-executor RPC protocol of
// §4.3.3: a gin HTTP server that runs one node's transform per task, and a
// client satisfying pkg/graph's RemoteClient interface.
package worker

import (
	"encoding/json"
	"time"
)

// TaskStatus is a submitted task's lifecycle state.
type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCanceled  TaskStatus = "canceled"
)

// WireColumn mirrors dataframe.ColumnDef over the wire.
type WireColumn struct {
	Name  string `json:"name"`
	DType string `json:"dtype"`
}

// WireFrame is a fully materialized dataframe, schema plus rows, the unit
// the remote protocol exchanges since a worker process does not share the
// submitting process's in-memory LazyFrame closures.
type WireFrame struct {
	Columns []WireColumn            `json:"columns"`
	Rows    []map[string]interface{} `json:"rows"`
}

// WireInputs is the slot-keyed input set of §4.2.3's NodeInputs, serialized.
type WireInputs struct {
	Main  []WireFrame `json:"main,omitempty"`
	Left  *WireFrame  `json:"left,omitempty"`
	Right *WireFrame  `json:"right,omitempty"`
}

// SubmitRequest is the body of POST /submit.
type SubmitRequest struct {
	NodeID     string          `json:"node_id"`
	NodeType   string          `json:"node_type"`
	Settings   json.RawMessage `json:"settings"`
	Inputs     WireInputs      `json:"inputs"`
	ResetCache bool            `json:"reset_cache"`
}

// SubmitResponse is the body of POST /submit's reply.
type SubmitResponse struct {
	TaskID string `json:"task_id"`
}

// StatusResponse is the body of GET /status/{task_id}.
type StatusResponse struct {
	TaskID    string     `json:"task_id"`
	Status    TaskStatus `json:"status"`
	CacheKey  string     `json:"cache_key,omitempty"`
	Error     string     `json:"error,omitempty"`
	ErrorCode int        `json:"error_code,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   time.Time  `json:"ended_at,omitempty"`
}

// FetchResponse is the body of GET /fetch/{cache_key}.
type FetchResponse struct {
	CacheKey string    `json:"cache_key"`
	Frame    WireFrame `json:"frame"`
}

// errorCodeOOM is the sentinel §7 "remote_killed" error_code the scheduler's
// isOOM check matches on (error_code=-1 substring in the wrapped error text).
const errorCodeOOM = -1
