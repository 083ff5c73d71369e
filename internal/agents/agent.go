// Package agents holds the automation agents behind the /agent endpoints:
// a code assistant, a file analyzer and a cron-backed task scheduler, plus
// the Manager that routes tasks to them.
package agents

import "context"

// Task is a unit of work. Which fields matter depends on Type.
type Task struct {
	Type     string                 `json:"type"`
	Agent    string                 `json:"agent,omitempty"`
	Code     string                 `json:"code,omitempty"`
	Language string                 `json:"language,omitempty"`
	Context  string                 `json:"context,omitempty"`
	Path     string                 `json:"path,omitempty"`
	Name     string                 `json:"name,omitempty"`
	Schedule string                 `json:"schedule,omitempty"` // cron spec
	TaskID   int                    `json:"task_id,omitempty"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

// Result is an agent's JSON-shaped answer. It always has "success".
type Result map[string]interface{}

// Success reports the "success" field.
func (r Result) Success() bool {
	ok, _ := r["success"].(bool)
	return ok
}

// Error returns the "error" field, if any.
func (r Result) Error() string {
	s, _ := r["error"].(string)
	return s
}

func ok(fields Result) Result {
	out := Result{"success": true}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func fail(msg string) Result {
	return Result{"success": false, "error": msg}
}

// Agent is one automation capability.
type Agent interface {
	Name() string
	Description() string
	Enabled() bool
	CanHandle(taskType string) bool
	Execute(ctx context.Context, task Task) Result
}

// base carries the fields every agent shares.
type base struct {
	name        string
	description string
	enabled     bool
	handles     []string
}

func (b *base) Name() string        { return b.name }
func (b *base) Description() string { return b.description }
func (b *base) Enabled() bool       { return b.enabled }

// SetEnabled switches the agent on or off.
func (b *base) SetEnabled(v bool) { b.enabled = v }

func (b *base) CanHandle(taskType string) bool {
	for _, t := range b.handles {
		if t == taskType {
			return true
		}
	}
	return false
}

// TaskTypes lists the task types the agent handles.
func (b *base) TaskTypes() []string { return append([]string(nil), b.handles...) }
