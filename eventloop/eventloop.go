// Package eventloop drives a vm.VM through the task-queue/timer-heap
// scheduling algorithm described in spec.md §4.6: run the loaded script
// to completion, then repeatedly drain due timers into the task queue and
// execute one task at a time until both are empty.
package eventloop

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kestrel-lang/kestrel/value"
	"github.com/kestrel-lang/kestrel/vm"
)

// Task is a pending (function, args) pair waiting on the FIFO task queue
// (§4.6 queue 1).
type Task struct {
	Function value.Value
	Args     []value.Value
}

// timerEntry is one scheduled callback, ordered by due instant with
// insertion sequence as a tiebreaker so same-instant timers drain in
// scheduling order (§4.6 "Ordering guarantees").
type timerEntry struct {
	due  time.Time
	seq  uint64
	task Task
}

// timerQueue is a container/heap.Interface min-heap over timerEntry,
// mirroring the teacher's preference for stdlib containers over a
// hand-rolled priority structure.
type timerQueue []*timerEntry

func (q timerQueue) Len() int { return len(q) }
func (q timerQueue) Less(i, j int) bool {
	if q[i].due.Equal(q[j].due) {
		return q[i].seq < q[j].seq
	}
	return q[i].due.Before(q[j].due)
}
func (q timerQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *timerQueue) Push(x any)   { *q = append(*q, x.(*timerEntry)) }
func (q *timerQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// EventLoop wraps a vm.VM with the task queue and timer heap described in
// §4.6. It is not safe for concurrent use by multiple goroutines except
// through PostAsync, which is the one thread-safe entry point (§5).
type EventLoop struct {
	VM *vm.VM

	mu       sync.Mutex
	tasks    []Task
	timers   timerQueue
	seq      uint64
	sleepFor func(time.Duration) <-chan time.Time
	group    errgroup.Group
}

// New returns a loop around m, ready to Run.
func New(m *vm.VM) *EventLoop {
	return &EventLoop{
		VM:       m,
		sleepFor: time.After,
	}
}

// Schedule implements setTimeout's semantics (§5 "Timeout semantics"): the
// task fires no earlier than now+delay; delay 0 still defers to the next
// loop turn rather than running inline.
func (l *EventLoop) Schedule(fn value.Value, args []value.Value, delay time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	heap.Push(&l.timers, &timerEntry{
		due:  time.Now().Add(delay),
		seq:  l.seq,
		task: Task{Function: fn, Args: args},
	})
}

// PostAsync is the thread-safe enqueue primitive called for by §5: a
// native function that spawns a worker goroutine must deliver its result
// back through the task queue rather than touching the heap directly from
// another goroutine.
func (l *EventLoop) PostAsync(fn value.Value, args []value.Value) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tasks = append(l.tasks, Task{Function: fn, Args: args})
}

// RunAsync runs work on its own goroutine and posts callback onto the task
// queue once it finishes, with Node-style (err, result) arguments: a
// non-nil error becomes callback(String(err.Error())), success becomes
// callback(Null{}, result) — the one path by which a native (fs.readFile,
// §6 expansion) may touch state outside the VM/heap without doing so from
// the executor goroutine itself (§5).
func (l *EventLoop) RunAsync(work func() (value.Value, error), callback value.Value) {
	l.group.Go(func() error {
		result, err := work()
		if err != nil {
			l.PostAsync(callback, []value.Value{value.String(err.Error())})
			return nil
		}
		l.PostAsync(callback, []value.Value{value.Null{}, result})
		return nil
	})
}

// Run executes the algorithm in §4.6: run the interpreter to completion,
// then alternate pumping due timers into the task queue and running one
// task until both are empty. Before returning it waits for in-flight
// RunAsync work, whose callbacks may refill the task queue.
func (l *EventLoop) Run(ctx context.Context) error {
	if err := l.VM.Run(ctx); err != nil {
		return fmt.Errorf("eventloop: initial script: %w", err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.pumpDueTimers()

		task, ok := l.popTask()
		if ok {
			if err := l.VM.RunTask(ctx, task.Function, task.Args); err != nil {
				return fmt.Errorf("eventloop: task: %w", err)
			}
			continue
		}

		nextDue, ok := l.nextTimerDue()
		if !ok {
			// Nothing queued or scheduled: wait for in-flight RunAsync work,
			// whose callbacks land on the task queue, before exiting.
			_ = l.group.Wait()
			l.mu.Lock()
			queued := len(l.tasks)
			l.mu.Unlock()
			if queued > 0 {
				continue
			}
			return nil
		}

		wait := time.Until(nextDue)
		if wait <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.sleepFor(wait):
		}
	}
}

func (l *EventLoop) pumpDueTimers() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	for len(l.timers) > 0 && !l.timers[0].due.After(now) {
		entry := heap.Pop(&l.timers).(*timerEntry)
		l.tasks = append(l.tasks, entry.task)
	}
}

func (l *EventLoop) popTask() (Task, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.tasks) == 0 {
		return Task{}, false
	}
	t := l.tasks[0]
	l.tasks = l.tasks[1:]
	return t, true
}

func (l *EventLoop) nextTimerDue() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.timers) == 0 {
		return time.Time{}, false
	}
	return l.timers[0].due, true
}
