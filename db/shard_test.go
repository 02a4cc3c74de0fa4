package db

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShard_RunsTasksInOrder(t *testing.T) {
	sh := NewShard(0, nil, 8)
	defer sh.Stop()

	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		fut := sh.Submit(context.Background(), func(*Shard) (any, error) {
			order = append(order, i)
			return i, nil
		})
		go func() {
			defer wg.Done()
			_, _ = fut.Get()
		}()
	}
	wg.Wait()

	require.Len(t, order, 50)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestInvoke_ReturnsTypedResult(t *testing.T) {
	sh := NewShard(3, nil, 1)
	defer sh.Stop()

	id, err := Invoke(context.Background(), sh, func(sh *Shard) (int, error) {
		return sh.ID(), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, id)

	boom := errors.New("boom")
	_, err = Invoke(context.Background(), sh, func(*Shard) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
}

func TestInvoke_RecoversPanics(t *testing.T) {
	sh := NewShard(0, nil, 1)
	defer sh.Stop()

	_, err := Invoke(context.Background(), sh, func(*Shard) (int, error) { panic("bad task") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	v, err := Invoke(context.Background(), sh, func(*Shard) (string, error) { return "alive", nil })
	require.NoError(t, err)
	assert.Equal(t, "alive", v)
}

func TestInvoke_HonorsContext(t *testing.T) {
	sh := NewShard(0, nil, 1)
	defer sh.Stop()

	release := make(chan struct{})
	sh.Submit(context.Background(), func(*Shard) (any, error) {
		<-release
		return nil, nil
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := Invoke(ctx, sh, func(*Shard) (int, error) { return 1, nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestShard_StoppedRejectsTasks(t *testing.T) {
	sh := NewShard(0, nil, 1)
	sh.Stop()
	sh.Stop()

	_, err := sh.Submit(context.Background(), func(*Shard) (any, error) { return nil, nil }).Get()
	assert.ErrorIs(t, err, ErrShardStopped)
}
