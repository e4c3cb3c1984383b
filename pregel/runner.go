package pregel

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"
)

// Runner executes a planned superstep's tasks with bounded concurrency,
// per-task retry/backoff, and cooperative interrupt/parent-command
// propagation. It runs a bounded goroutine worker pool but
// operates on Task/TaskOutcome instead of a single-state WorkItem.
type Runner struct {
	graph          *Graph
	maxConcurrency int
	metrics        *PrometheusMetrics
	bus            *StreamBus
	threadID       string

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewRunner returns a Runner bound to graph. maxConcurrency <= 0 means
// unbounded (limited only by len(tasks)).
func NewRunner(graph *Graph, maxConcurrency int, metrics *PrometheusMetrics, bus *StreamBus, threadID string) *Runner {
	return &Runner{
		graph:          graph,
		maxConcurrency: maxConcurrency,
		metrics:        metrics,
		bus:            bus,
		threadID:       threadID,
		rng:            rand.New(rand.NewSource(1)),
	}
}

// Run executes tasks to completion (including retries), honoring each
// Task's Defer flag by running non-deferred tasks to completion in one wave
// before starting the deferred wave. resumes supplies, per task ID, the
// ordinal->value map threaded into that task's TaskInput for Interrupt
// resolution. Run returns one TaskOutcome per task, in no particular order;
// callers needing determinism should re-sort by TaskID.
func (r *Runner) Run(ctx context.Context, tasks []Task, stepTimeout time.Duration, resumes map[string]map[int]any) []TaskOutcome {
	var primary, deferred []Task
	for _, t := range tasks {
		if t.Defer {
			deferred = append(deferred, t)
		} else {
			primary = append(primary, t)
		}
	}

	out := r.runWave(ctx, primary, stepTimeout, resumes)
	if ctx.Err() == nil {
		out = append(out, r.runWave(ctx, deferred, stepTimeout, resumes)...)
	}
	return out
}

func (r *Runner) runWave(ctx context.Context, tasks []Task, stepTimeout time.Duration, resumes map[string]map[int]any) []TaskOutcome {
	if len(tasks) == 0 {
		return nil
	}

	sem := make(chan struct{}, r.concurrencyLimit(len(tasks)))
	out := make([]TaskOutcome, len(tasks))

	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if r.metrics != nil {
				r.metrics.UpdateInflightTasks(len(sem))
			}
			out[i] = r.runTask(ctx, task, stepTimeout, resumes[task.ID])
		}(i, task)
	}
	wg.Wait()
	return out
}

func (r *Runner) concurrencyLimit(n int) int {
	if r.maxConcurrency <= 0 || r.maxConcurrency > n {
		return n
	}
	return r.maxConcurrency
}

// runTask executes one task, retrying per its effective RetryPolicy until
// success, a non-retryable error, an interrupt, a parent command, or
// exhausted attempts.
func (r *Runner) runTask(ctx context.Context, task Task, stepTimeout time.Duration, resumeVals map[int]any) TaskOutcome {
	node, ok := r.graph.NodeImpls[task.Name]
	if !ok {
		return TaskOutcome{TaskID: task.ID, Name: task.Name, Err: ErrNodeNotFound}
	}

	policy := r.retryPolicyFor(task)
	maxAttempts := 1
	if policy != nil {
		maxAttempts = policy.MaxAttempts
	}

	timeout := stepTimeout
	if spec, ok := r.graph.Nodes[task.Name]; ok && spec.Policy.Timeout > 0 {
		timeout = spec.Policy.Timeout
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := computeBackoff(attempt-1, policy.BaseDelay, policy.MaxDelay, r.jitterSource())
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return TaskOutcome{TaskID: task.ID, Name: task.Name, Err: ctx.Err(), Attempts: attempt}
			}
			if r.metrics != nil {
				r.metrics.IncrementRetries(r.threadID, task.Name, "error")
			}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		}

		in := TaskInput{
			Values:   task.Input,
			Triggers: task.Triggers,
			TaskID:   task.ID,
			Step:     task.Step,
			Attempt:  attempt,
			resumes:  resumeVals,
		}
		result := node.Run(attemptCtx, in)
		if cancel != nil {
			cancel()
		}

		if gi, ok := IsInterrupt(result.Err); ok {
			return TaskOutcome{TaskID: task.ID, Name: task.Name, Interrupt: gi, Attempts: attempt + 1}
		}
		if pc, ok := IsParentCommand(result.Err); ok {
			return TaskOutcome{TaskID: task.ID, Name: task.Name, ParentCmd: &pc.Command, Attempts: attempt + 1}
		}
		if result.Err == nil {
			return r.outcomeFromResult(task, result, attempt+1)
		}

		lastErr = result.Err
		attempts = attempt + 1
		if policy == nil || policy.Retryable == nil || !policy.Retryable(result.Err) {
			break
		}
	}
	return TaskOutcome{TaskID: task.ID, Name: task.Name, Err: lastErr, Attempts: attempts}
}

func (r *Runner) retryPolicyFor(task Task) *RetryPolicy {
	if task.RetryPolicy != nil {
		return task.RetryPolicy
	}
	if spec, ok := r.graph.Nodes[task.Name]; ok {
		return spec.Policy.RetryPolicy
	}
	return nil
}

func (r *Runner) jitterSource() *rand.Rand {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	return r.rng
}

func (r *Runner) outcomeFromResult(task Task, result TaskResult, attempts int) TaskOutcome {
	update := result.Update
	var sends []Send
	if result.Cmd != nil {
		if update == nil {
			update = result.Cmd.Update
		} else {
			for k, v := range result.Cmd.Update {
				update[k] = v
			}
		}
		sends = result.Cmd.Goto
	}

	writes := make([]PendingWrite, 0, len(update))
	idx := 0
	for ch, v := range update {
		writes = append(writes, PendingWrite{TaskID: task.ID, Channel: ch, Value: v, Idx: idx})
		idx++
	}

	return TaskOutcome{TaskID: task.ID, Name: task.Name, Writes: writes, Sends: sends, Attempts: attempts}
}

// errRunnerCancelled names a cancellation before any task dispatches. No
// code path returns it: a task whose ctx ends during backoff reports
// ctx.Err() in its TaskOutcome.
var errRunnerCancelled = errors.New("pregel: runner cancelled before dispatch")
