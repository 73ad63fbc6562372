// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool runs asynchronous buffer transfers on a bounded number of goroutines.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool runs submitted tasks in goroutines, with at most Limit of them running at a time.
// Tasks submitted while the pool is full are queued, and started in submission order.
//
// It is safe for concurrent use.
type Pool struct {
	limit int

	mu      sync.Mutex
	running int
	queue   []func()
}

// New returns a Pool that runs at most limit tasks at a time.
// A limit of 0 uses runtime.NumCPU(), and a negative limit means unlimited.
func New(limit int) *Pool {
	if limit == 0 {
		limit = runtime.NumCPU()
	}
	return &Pool{limit: limit}
}

// Limit returns the maximum number of tasks running at a time, or -1 if unlimited.
func (p *Pool) Limit() int {
	if p.limit < 0 {
		return -1
	}
	return p.limit
}

// IsUnlimited returns whether every task starts immediately.
func (p *Pool) IsUnlimited() bool {
	return p.limit < 0
}

// NumRunning returns the number of tasks currently running.
func (p *Pool) NumRunning() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// NumQueued returns the number of tasks waiting for a free worker.
func (p *Pool) NumQueued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Submit schedules task to run as soon as a worker is free. It never blocks.
//
// It's up to the caller to synchronize on the end of the task.
func (p *Pool) Submit(task func()) {
	p.mu.Lock()
	if p.limit >= 0 && p.running >= p.limit {
		p.queue = append(p.queue, task)
		p.mu.Unlock()
		return
	}
	p.running++
	p.mu.Unlock()
	go p.work(task)
}

// work runs task, and then the queued tasks while there are any.
func (p *Pool) work(task func()) {
	for task != nil {
		task()
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.running--
			task = nil
		} else {
			task = p.queue[0]
			p.queue[0] = nil
			p.queue = p.queue[1:]
		}
		p.mu.Unlock()
	}
}
