package agents

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// ScheduledTask is one entry in the scheduler.
type ScheduledTask struct {
	ID        int        `json:"id"`
	Name      string     `json:"name,omitempty"`
	Schedule  string     `json:"schedule,omitempty"`
	Status    string     `json:"status"`
	Config    Task       `json:"config"`
	CreatedAt time.Time  `json:"created_at"`
	RunCount  int        `json:"run_count"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`

	entryID cron.EntryID
}

// TaskScheduler records tasks and, for tasks with a cron spec, runs a job
// that counts each firing.
type TaskScheduler struct {
	base

	mu     sync.Mutex
	cron   *cron.Cron
	tasks  []*ScheduledTask
	nextID int
	now    func() time.Time
	onRun  func(*ScheduledTask)
}

// NewTaskScheduler creates the scheduler. Cron jobs fire only after Start.
func NewTaskScheduler() *TaskScheduler {
	return &TaskScheduler{
		base: base{
			name:        "TaskScheduler",
			description: "Task scheduling and automation",
			enabled:     true,
			handles:     []string{"schedule_task", "list_tasks", "cancel_task"},
		},
		cron:   cron.New(),
		nextID: 1,
		now:    time.Now,
	}
}

// Start starts the cron runner.
func (s *TaskScheduler) Start() {
	s.cron.Start()
}

// Stop stops the cron runner and waits for running jobs.
func (s *TaskScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Execute implements Agent.
func (s *TaskScheduler) Execute(ctx context.Context, task Task) Result {
	switch task.Type {
	case "schedule_task":
		return s.schedule(task)
	case "list_tasks":
		return ok(Result{"tasks": s.Tasks()})
	case "cancel_task":
		return s.cancel(task.TaskID)
	default:
		return fail("Unknown task type")
	}
}

func (s *TaskScheduler) schedule(task Task) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &ScheduledTask{
		ID:        s.nextID,
		Name:      task.Name,
		Schedule:  task.Schedule,
		Status:    "scheduled",
		Config:    task,
		CreatedAt: s.now().UTC(),
	}

	if task.Schedule != "" {
		id, err := s.cron.AddFunc(task.Schedule, func() { s.fire(st.ID) })
		if err != nil {
			return fail("Invalid schedule: " + err.Error())
		}
		st.entryID = id
	}

	s.nextID++
	s.tasks = append(s.tasks, st)
	log.Info().Int("task_id", st.ID).Str("schedule", st.Schedule).Msg("task scheduled")

	return ok(Result{
		"task_id": st.ID,
		"message": "Task scheduled successfully",
	})
}

func (s *TaskScheduler) fire(id int) {
	s.mu.Lock()
	var hit *ScheduledTask
	for _, t := range s.tasks {
		if t.ID == id && t.Status != "cancelled" {
			now := s.now().UTC()
			t.RunCount++
			t.LastRun = &now
			t.Status = "active"
			hit = t
			break
		}
	}
	onRun := s.onRun
	s.mu.Unlock()

	if hit != nil {
		log.Debug().Int("task_id", id).Int("run_count", hit.RunCount).Msg("scheduled task fired")
		if onRun != nil {
			onRun(hit)
		}
	}
}

func (s *TaskScheduler) cancel(id int) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tasks {
		if t.ID != id {
			continue
		}
		if t.Status == "cancelled" {
			return fail("Task already cancelled")
		}
		if t.entryID != 0 {
			s.cron.Remove(t.entryID)
		}
		t.Status = "cancelled"
		log.Info().Int("task_id", id).Msg("task cancelled")
		return ok(Result{"task_id": id, "message": "Task cancelled"})
	}
	return fail("Task not found")
}

// Tasks returns a snapshot of every task with its next run time.
func (s *TaskScheduler) Tasks() []ScheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ScheduledTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		c := *t
		if t.entryID != 0 && t.Status != "cancelled" {
			if next := s.cron.Entry(t.entryID).Next; !next.IsZero() {
				c.NextRun = &next
			}
		}
		out = append(out, c)
	}
	return out
}
