package peer

import "sync"

// defaultQueueSize bounds the executor task queue. Submitters block when it
// is full, which only delays frame dispatch, never sheds load.
const defaultQueueSize = 1024

// Executor serializes all handler execution onto one goroutine. Handlers
// never run concurrently with each other and never interleave with other
// work scheduled on the same executor, so handler authors need no locking.
//
// The executor owns only the queue; the worker is a single goroutine that
// the embedding application may run itself via Run, or leave to Start.
type Executor struct {
	tasks    chan func()
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewExecutor creates an executor with the default queue size.
func NewExecutor() *Executor {
	return &Executor{
		tasks:  make(chan func(), defaultQueueSize),
		stopCh: make(chan struct{}),
	}
}

// Start runs the worker in its own goroutine.
func (e *Executor) Start() {
	go e.Run()
}

// Run drains and executes tasks until the executor is stopped. It must be
// called at most once.
func (e *Executor) Run() {
	for {
		select {
		case task := <-e.tasks:
			task()
		case <-e.stopCh:
			return
		}
	}
}

// Submit enqueues a task for execution. It blocks while the queue is full
// and silently drops the task once the executor is stopped.
func (e *Executor) Submit(task func()) {
	select {
	case <-e.stopCh:
	default:
		select {
		case e.tasks <- task:
		case <-e.stopCh:
		}
	}
}

// Stop terminates the worker. Queued tasks that have not started are
// discarded.
func (e *Executor) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)
	})
}
