package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Registration keys, in routing order.
const (
	KeyCodeAssistant = "code_assistant"
	KeyFileAnalyzer  = "file_analyzer"
	KeyTaskScheduler = "task_scheduler"
)

type entry struct {
	key   string
	agent Agent
}

// Manager routes tasks to agents.
type Manager struct {
	agents    []entry
	scheduler *TaskScheduler
}

// NewManager builds the default agent set. fileRoot confines the file
// analyzer (empty allows any path).
func NewManager(fileRoot string) *Manager {
	sched := NewTaskScheduler()
	m := &Manager{scheduler: sched}
	m.Register(KeyCodeAssistant, NewCodeAssistant())
	m.Register(KeyFileAnalyzer, NewFileAnalyzer(fileRoot))
	m.Register(KeyTaskScheduler, sched)
	return m
}

// Register adds an agent, or replaces the one under key.
func (m *Manager) Register(key string, a Agent) {
	for i := range m.agents {
		if m.agents[i].key == key {
			m.agents[i].agent = a
			return
		}
	}
	m.agents = append(m.agents, entry{key: key, agent: a})
}

// Get returns the agent registered under key.
func (m *Manager) Get(key string) (Agent, bool) {
	for _, e := range m.agents {
		if e.key == key {
			return e.agent, true
		}
	}
	return nil, false
}

// Scheduler returns the task scheduler.
func (m *Manager) Scheduler() *TaskScheduler { return m.scheduler }

// Start starts the scheduler's cron runner.
func (m *Manager) Start() {
	if m.scheduler != nil {
		m.scheduler.Start()
	}
}

// Stop stops the scheduler's cron runner.
func (m *Manager) Stop() {
	if m.scheduler != nil {
		m.scheduler.Stop()
	}
}

// Execute runs task on the named agent when it can handle the type,
// otherwise on the first enabled agent that can.
func (m *Manager) Execute(ctx context.Context, task Task) Result {
	start := time.Now()

	if task.Agent != "" {
		if a, found := m.Get(task.Agent); found && a.Enabled() && a.CanHandle(task.Type) {
			return m.run(ctx, a, task, start)
		}
	}

	for _, e := range m.agents {
		if e.agent.Enabled() && e.agent.CanHandle(task.Type) {
			return m.run(ctx, e.agent, task, start)
		}
	}

	log.Warn().Str("task_type", task.Type).Msg("no agent for task")
	return fail(fmt.Sprintf("No agent available for task type: %s", task.Type))
}

func (m *Manager) run(ctx context.Context, a Agent, task Task, start time.Time) Result {
	res := a.Execute(ctx, task)
	log.Debug().
		Str("agent", a.Name()).
		Str("task_type", task.Type).
		Bool("success", res.Success()).
		Dur("duration", time.Since(start)).
		Msg("agent task executed")
	return res
}

// AgentInfo describes one registered agent.
type AgentInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Enabled     bool     `json:"enabled"`
	TaskTypes   []string `json:"task_types,omitempty"`
}

// Info lists the registered agents keyed by registration key.
func (m *Manager) Info() map[string]AgentInfo {
	out := make(map[string]AgentInfo, len(m.agents))
	for _, e := range m.agents {
		info := AgentInfo{
			Name:        e.agent.Name(),
			Description: e.agent.Description(),
			Enabled:     e.agent.Enabled(),
		}
		if tt, ok := e.agent.(interface{ TaskTypes() []string }); ok {
			info.TaskTypes = tt.TaskTypes()
		}
		out[e.key] = info
	}
	return out
}

// Count returns the number of registered agents.
func (m *Manager) Count() int { return len(m.agents) }

// EnabledCount returns the number of enabled agents.
func (m *Manager) EnabledCount() int {
	n := 0
	for _, e := range m.agents {
		if e.agent.Enabled() {
			n++
		}
	}
	return n
}
