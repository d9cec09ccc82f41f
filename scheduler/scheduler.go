// Package scheduler owns the recurring background tasks of the monitor as a
// single registry with explicit start/stop/reset lifecycle, instead of ad hoc
// tickers scattered per component. Tests drive RunDue directly with a
// synthetic clock.
package scheduler

import (
	"log"
	"sort"
	"sync"
	"time"
)

// TaskFunc runs one iteration of a recurring task. now is the scheduler's
// view of the current time when the task came due.
type TaskFunc func(now time.Time)

type task struct {
	name     string
	interval time.Duration
	fn       TaskFunc
	lastRun  time.Time
	runs     uint64
}

// Registry holds named recurring tasks and drives them from one resolution
// ticker. Task functions run on the driver goroutine, so they must not block
// for long; long work belongs in the task's own goroutine.
type Registry struct {
	mu         sync.Mutex
	tasks      map[string]*task
	resolution time.Duration
	quit       chan struct{}
	running    bool
}

// New constructs a registry that evaluates due tasks every resolution.
// Non-positive resolutions fall back to one second.
func New(resolution time.Duration) *Registry {
	if resolution <= 0 {
		resolution = time.Second
	}
	return &Registry{
		tasks:      make(map[string]*task),
		resolution: resolution,
	}
}

// Add registers a named task. Re-adding a name replaces the previous task.
// The first run happens one full interval after Add (or after Reset).
func (r *Registry) Add(name string, interval time.Duration, fn TaskFunc) {
	if r == nil || fn == nil || interval <= 0 {
		return
	}
	r.mu.Lock()
	r.tasks[name] = &task{
		name:     name,
		interval: interval,
		fn:       fn,
		lastRun:  time.Now().UTC(),
	}
	r.mu.Unlock()
}

// Remove unregisters a task by name.
func (r *Registry) Remove(name string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	delete(r.tasks, name)
	r.mu.Unlock()
}

// Start launches the driver loop. Safe to call once; subsequent calls are
// ignored until Stop.
func (r *Registry) Start() {
	if r == nil {
		return
	}
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.quit = make(chan struct{})
	quit := r.quit
	r.mu.Unlock()

	go func() {
		ticker := time.NewTicker(r.resolution)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				r.RunDue(now.UTC())
			case <-quit:
				return
			}
		}
	}()
}

// Stop terminates the driver loop.
func (r *Registry) Stop() {
	if r == nil {
		return
	}
	r.mu.Lock()
	if r.running {
		close(r.quit)
		r.running = false
	}
	r.mu.Unlock()
}

// RunDue executes every task whose interval has elapsed at now. Exposed so
// tests can drive the registry with a synthetic clock.
func (r *Registry) RunDue(now time.Time) {
	if r == nil {
		return
	}
	r.mu.Lock()
	due := make([]*task, 0, len(r.tasks))
	for _, t := range r.tasks {
		if now.Sub(t.lastRun) >= t.interval {
			t.lastRun = now
			t.runs++
			due = append(due, t)
		}
	}
	r.mu.Unlock()

	// Stable order keeps interleaved logs readable.
	sort.Slice(due, func(i, j int) bool { return due[i].name < due[j].name })
	for _, t := range due {
		r.safeRun(t, now)
	}
}

// Kick forces a named task to run on the next RunDue evaluation.
func (r *Registry) Kick(name string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	if t, ok := r.tasks[name]; ok {
		t.lastRun = time.Time{}
	}
	r.mu.Unlock()
}

// Reset restarts a task's interval from now without running it.
func (r *Registry) Reset(name string, now time.Time) {
	if r == nil {
		return
	}
	r.mu.Lock()
	if t, ok := r.tasks[name]; ok {
		t.lastRun = now
	}
	r.mu.Unlock()
}

// Runs returns how many times a task has fired. Zero for unknown names.
func (r *Registry) Runs(name string) uint64 {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[name]; ok {
		return t.runs
	}
	return 0
}

func (r *Registry) safeRun(t *task, now time.Time) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("Scheduler: task %s panicked: %v", t.name, rec)
		}
	}()
	t.fn(now)
}
