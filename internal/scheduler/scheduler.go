package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task is a unit of periodic background work
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs registered tasks on independent tickers until stopped
type Scheduler struct {
	tasks  []Task
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// New creates an empty scheduler
func New() *Scheduler {
	return &Scheduler{}
}

// Every registers a task. Must be called before Start.
func (s *Scheduler) Every(name string, interval time.Duration, run func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, Task{Name: name, Interval: interval, Run: run})
}

// Start launches one goroutine per task. The first run happens after one interval.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	for _, task := range s.tasks {
		s.wg.Add(1)
		go s.loop(ctx, task)
	}
}

// Stop cancels every task and waits for in-flight runs to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, task Task) {
	defer s.wg.Done()

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	slog.Debug("Scheduled task started", "task", task.Name, "interval", task.Interval)
	for {
		select {
		case <-ctx.Done():
			slog.Debug("Scheduled task stopped", "task", task.Name)
			return
		case <-ticker.C:
			if err := task.Run(ctx); err != nil {
				slog.Error("Scheduled task failed", "task", task.Name, "error", err)
			}
		}
	}
}
