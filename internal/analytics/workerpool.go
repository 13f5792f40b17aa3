// Package analytics runs post-run statistical analysis over a completed
// backtest's trade/return stream: bootstrap resampling and confidence
// intervals on the fixed output of a single run. It never feeds back into
// strategy selection or parameter search — every sample is drawn from the
// one completed trade sequence handed to it.
package analytics

import (
	"context"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

// Task is one unit of resampling work.
type Task func() error

// Pool runs a bounded number of Tasks concurrently, used to drive the
// Monte Carlo resampling batches in parallel.
type Pool struct {
	logger     *zap.Logger
	numWorkers int
	queue      chan Task
	wg         sync.WaitGroup
	errs       chan error
}

// NewPool builds a Pool with numWorkers goroutines; numWorkers <= 0 defaults
// to twice the host's CPU count, matching the teacher's I/O-bound default.
func NewPool(logger *zap.Logger, numWorkers, queueSize int) *Pool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU() * 2
	}
	if queueSize <= 0 {
		queueSize = numWorkers * 4
	}
	return &Pool{
		logger:     logger,
		numWorkers: numWorkers,
		queue:      make(chan Task, queueSize),
		errs:       make(chan error, queueSize),
	}
}

// Run submits every task, waits for them all to complete, and returns the
// first error encountered (if any); it blocks until the whole batch drains.
func (p *Pool) Run(ctx context.Context, tasks []Task) error {
	p.wg.Add(p.numWorkers)
	for i := 0; i < p.numWorkers; i++ {
		go p.worker(ctx)
	}

	go func() {
		for _, t := range tasks {
			select {
			case p.queue <- t:
			case <-ctx.Done():
			}
		}
		close(p.queue)
	}()

	p.wg.Wait()
	close(p.errs)

	var firstErr error
	for err := range p.errs {
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case task, ok := <-p.queue:
			if !ok {
				return
			}
			p.runTask(task)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pool) runTask(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("analytics worker panic recovered", zap.Any("recovered", r))
			p.errs <- errPanic
		}
	}()
	if err := task(); err != nil {
		p.errs <- err
	}
}

var errPanic = &panicError{}

type panicError struct{}

func (*panicError) Error() string { return "analytics worker task panicked" }
