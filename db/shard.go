package db

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jizhuozhi/go-future"
	"github.com/maxpert/hotspot/listener"
	"github.com/rs/zerolog/log"
)

// ErrShardStopped is returned for tasks submitted to, or still queued on, a stopped shard
var ErrShardStopped = errors.New("shard stopped")

// Task runs on the shard goroutine with exclusive access to the shard state
type Task func(sh *Shard) (any, error)

type shardTask struct {
	ctx     context.Context
	fn      Task
	promise *future.Promise[any]
}

// Shard is one single-threaded execution unit. Its registry and store are only
// touched by tasks, which run one at a time in submission order.
type Shard struct {
	id       int
	registry *listener.Registry
	store    *Store

	tasks  chan *shardTask
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu       sync.RWMutex
	stopped  bool
	stopOnce sync.Once
}

// NewShard starts the shard goroutine
func NewShard(id int, store *Store, queueDepth int) *Shard {
	if queueDepth < 1 {
		queueDepth = 1
	}
	sh := &Shard{
		id:       id,
		registry: listener.NewRegistry(),
		store:    store,
		tasks:    make(chan *shardTask, queueDepth),
		stopCh:   make(chan struct{}),
	}

	sh.wg.Add(1)
	go sh.run()
	return sh
}

func (sh *Shard) ID() int {
	return sh.id
}

// Registry returns the shard's listener registry. Only valid inside a Task.
func (sh *Shard) Registry() *listener.Registry {
	return sh.registry
}

// Store returns the shard's storage. Only valid inside a Task.
func (sh *Shard) Store() *Store {
	return sh.store
}

// Submit queues fn for execution on the shard goroutine
func (sh *Shard) Submit(ctx context.Context, fn Task) *future.Future[any] {
	p := future.NewPromise[any]()

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	if sh.stopped {
		p.Set(nil, ErrShardStopped)
		return p.Future()
	}

	select {
	case sh.tasks <- &shardTask{ctx: ctx, fn: fn, promise: p}:
	case <-ctx.Done():
		p.Set(nil, ctx.Err())
	case <-sh.stopCh:
		p.Set(nil, ErrShardStopped)
	}
	return p.Future()
}

// Invoke runs fn on sh and waits for its result or for ctx to end
func Invoke[T any](ctx context.Context, sh *Shard, fn func(sh *Shard) (T, error)) (T, error) {
	var zero T

	fut := sh.Submit(ctx, func(sh *Shard) (any, error) {
		return fn(sh)
	})

	type result struct {
		v   any
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fut.Get()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return zero, r.err
		}
		v, _ := r.v.(T)
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Stop ends the shard goroutine and fails whatever is still queued
func (sh *Shard) Stop() {
	sh.stopOnce.Do(func() {
		close(sh.stopCh)
		sh.mu.Lock()
		sh.stopped = true
		sh.mu.Unlock()

		sh.wg.Wait()

		for {
			select {
			case t := <-sh.tasks:
				t.promise.Set(nil, ErrShardStopped)
			default:
				return
			}
		}
	})
}

func (sh *Shard) run() {
	defer sh.wg.Done()

	for {
		select {
		case t := <-sh.tasks:
			sh.execute(t)
		case <-sh.stopCh:
			return
		}
	}
}

func (sh *Shard) execute(t *shardTask) {
	if err := t.ctx.Err(); err != nil {
		t.promise.Set(nil, err)
		return
	}

	var (
		v   any
		err error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("shard %d task panicked: %v", sh.id, r)
				log.Error().Int("shard", sh.id).Interface("panic", r).Msg("Shard task panicked")
			}
		}()
		v, err = t.fn(sh)
	}()

	t.promise.Set(v, err)
}
