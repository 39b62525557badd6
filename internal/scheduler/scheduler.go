package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"refurb-bridge/internal/logger"
)

// TaskFunc is the body of one scheduled task.
type TaskFunc func(ctx context.Context) error

// TaskStatus is the externally visible state of one task.
type TaskStatus struct {
	Name      string     `json:"name"`
	Interval  string     `json:"interval"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	IsRunning bool       `json:"is_running"`
}

type task struct {
	name     string
	interval time.Duration
	fn       TaskFunc

	mu        sync.Mutex
	lastRun   *time.Time
	nextRun   *time.Time
	lastError string
	running   bool
}

// maxStartupJitter de-correlates task starts after a restart.
const maxStartupJitter = 10 * time.Second

// Scheduler runs a fixed set of named periodic tasks. Each task is
// single-flight: a tick or manual trigger that lands while the previous
// run is still going is skipped with a log line, never queued.
type Scheduler struct {
	mu    sync.Mutex
	tasks []*task

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	jitter func(time.Duration) time.Duration
}

// New builds an empty scheduler. Register tasks before Start.
func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		ctx:    ctx,
		cancel: cancel,
		jitter: func(max time.Duration) time.Duration {
			return time.Duration(rand.Int63n(int64(max)))
		},
	}
}

// Register adds a named task. Must be called before Start.
func (s *Scheduler) Register(name string, interval time.Duration, fn TaskFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, &task{name: name, interval: interval, fn: fn})
}

// Start launches one goroutine per task, each delayed by a random jitter
// in [0, 10s) before its first run.
func (s *Scheduler) Start() {
	s.mu.Lock()
	tasks := append([]*task(nil), s.tasks...)
	s.mu.Unlock()

	for _, t := range tasks {
		delay := s.jitter(maxStartupJitter)
		next := time.Now().Add(delay)
		t.mu.Lock()
		t.nextRun = &next
		t.mu.Unlock()

		s.wg.Add(1)
		go func(t *task, delay time.Duration) {
			defer s.wg.Done()
			select {
			case <-time.After(delay):
			case <-s.ctx.Done():
				return
			}
			s.runOnce(t)
			ticker := time.NewTicker(t.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					s.runOnce(t)
				case <-s.ctx.Done():
					return
				}
			}
		}(t, delay)
	}
	logger.Info("SCHED", fmt.Sprintf("started %d periodic tasks", len(tasks)))
}

// Stop cancels all task contexts and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// runOnce executes the task body unless a previous run is still going.
func (s *Scheduler) runOnce(t *task) {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		logger.Warn("SCHED", fmt.Sprintf("%s: previous run still in progress, skipping", t.name))
		return
	}
	t.running = true
	started := time.Now()
	t.lastRun = &started
	next := started.Add(t.interval)
	t.nextRun = &next
	t.mu.Unlock()

	err := s.invoke(t)

	t.mu.Lock()
	t.running = false
	if err != nil {
		t.lastError = err.Error()
	} else {
		t.lastError = ""
	}
	t.mu.Unlock()

	if err != nil {
		logger.Error("SCHED", fmt.Sprintf("%s: %v", t.name, err))
	}
}

// invoke runs the task body, converting a panic into an error so one bad
// task cannot take the process down.
func (s *Scheduler) invoke(t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return t.fn(s.ctx)
}

// Trigger runs the named task immediately. Returns false if no task by
// that name exists. A trigger racing an in-progress run is skipped like
// any other.
func (s *Scheduler) Trigger(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.name == name {
			go s.runOnce(t)
			return true
		}
	}
	return false
}

// TriggerAll fires every registered task.
func (s *Scheduler) TriggerAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		go s.runOnce(t)
	}
}

// Status snapshots every task's state.
func (s *Scheduler) Status() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskStatus, 0, len(s.tasks))
	for _, t := range s.tasks {
		t.mu.Lock()
		out = append(out, TaskStatus{
			Name:      t.name,
			Interval:  t.interval.String(),
			LastRun:   t.lastRun,
			NextRun:   t.nextRun,
			LastError: t.lastError,
			IsRunning: t.running,
		})
		t.mu.Unlock()
	}
	return out
}
