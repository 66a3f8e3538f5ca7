package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testTimeout = 5 * time.Second

func fastBackoff() SupervisorOpt {
	return WithBackoff(time.Millisecond, 10*time.Millisecond)
}

func runnableBecomesHealthy(healthy chan<- struct{}) Runnable {
	return func(ctx context.Context) error {
		Signal(ctx, SignalHealthy)
		healthy <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}
}

func waitFor(t *testing.T, c <-chan struct{}) {
	t.Helper()
	select {
	case <-c:
	case <-time.After(testTimeout):
		t.Fatal("timed out")
	}
}

func TestSimple(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h1 := make(chan struct{}, 1)
	h2 := make(chan struct{}, 1)
	New(ctx, zap.NewNop(), func(ctx context.Context) error {
		err := RunGroup(ctx, map[string]Runnable{
			"one": runnableBecomesHealthy(h1),
			"two": runnableBecomesHealthy(h2),
		})
		if err != nil {
			return err
		}
		Signal(ctx, SignalHealthy)
		<-ctx.Done()
		return ctx.Err()
	}, fastBackoff())

	waitFor(t, h1)
	waitFor(t, h2)
}

func TestRestartAfterFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var starts int32
	healthy := make(chan struct{}, 1)
	New(ctx, zap.NewNop(), func(ctx context.Context) error {
		err := Run(ctx, "flaky", func(ctx context.Context) error {
			if atomic.AddInt32(&starts, 1) < 3 {
				return errors.New("boom")
			}
			Signal(ctx, SignalHealthy)
			healthy <- struct{}{}
			<-ctx.Done()
			return ctx.Err()
		})
		if err != nil {
			return err
		}
		<-ctx.Done()
		return ctx.Err()
	}, fastBackoff())

	waitFor(t, healthy)
	assert.Equal(t, int32(3), atomic.LoadInt32(&starts))
}

func TestGroupRestartsSiblings(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var siblingStarts int32
	siblingRestarted := make(chan struct{}, 1)
	var failed int32

	New(ctx, zap.NewNop(), func(ctx context.Context) error {
		err := RunGroup(ctx, map[string]Runnable{
			"sibling": func(ctx context.Context) error {
				if atomic.AddInt32(&siblingStarts, 1) == 2 {
					siblingRestarted <- struct{}{}
				}
				<-ctx.Done()
				return ctx.Err()
			},
			"failing": func(ctx context.Context) error {
				if atomic.CompareAndSwapInt32(&failed, 0, 1) {
					return errors.New("first run fails")
				}
				<-ctx.Done()
				return ctx.Err()
			},
		})
		if err != nil {
			return err
		}
		<-ctx.Done()
		return ctx.Err()
	}, fastBackoff())

	waitFor(t, siblingRestarted)
}

func TestPanicIsRecovered(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var starts int32
	healthy := make(chan struct{}, 1)
	New(ctx, zap.NewNop(), func(ctx context.Context) error {
		err := Run(ctx, "panicky", func(ctx context.Context) error {
			if atomic.AddInt32(&starts, 1) == 1 {
				panic("first run panics")
			}
			healthy <- struct{}{}
			<-ctx.Done()
			return ctx.Err()
		})
		if err != nil {
			return err
		}
		<-ctx.Done()
		return ctx.Err()
	}, fastBackoff())

	waitFor(t, healthy)
}

func TestDoneIsNotRestarted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var starts int32
	finished := make(chan struct{}, 1)
	New(ctx, zap.NewNop(), func(ctx context.Context) error {
		err := Run(ctx, "oneshot", func(ctx context.Context) error {
			atomic.AddInt32(&starts, 1)
			Signal(ctx, SignalDone)
			finished <- struct{}{}
			return nil
		})
		if err != nil {
			return err
		}
		<-ctx.Done()
		return ctx.Err()
	}, fastBackoff())

	waitFor(t, finished)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&starts))
}

func TestDuplicateAndInvalidNames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errs := make(chan error, 3)
	New(ctx, zap.NewNop(), func(ctx context.Context) error {
		noop := func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}
		errs <- Run(ctx, "a", noop)
		errs <- Run(ctx, "a", noop)
		errs <- Run(ctx, "b.c", noop)
		<-ctx.Done()
		return ctx.Err()
	}, fastBackoff())

	var got []error
	for i := 0; i < 3; i++ {
		select {
		case err := <-errs:
			got = append(got, err)
		case <-time.After(testTimeout):
			t.Fatal("timed out")
		}
	}
	require.Len(t, got, 3)
	assert.NoError(t, got[0])
	assert.Error(t, got[1])
	assert.Error(t, got[2])
}

func TestDN(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dn := make(chan string, 1)
	New(ctx, zap.NewNop(), func(ctx context.Context) error {
		err := Run(ctx, "child", func(ctx context.Context) error {
			dn <- DN(ctx)
			<-ctx.Done()
			return ctx.Err()
		})
		if err != nil {
			return err
		}
		<-ctx.Done()
		return ctx.Err()
	}, fastBackoff())

	select {
	case got := <-dn:
		assert.Equal(t, "root.child", got)
	case <-time.After(testTimeout):
		t.Fatal("timed out")
	}
}
