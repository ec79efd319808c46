//go:build !change

package rlock

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/devopsleague/gevent/taskid"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestReentrancy(t *testing.T) {
	l := New()

	for i := 1; i <= 3; i++ {
		ok, err := l.Acquire(context.Background(), -1)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, i, l.count)
	}
	require.True(t, l.OwnedByCurrent())

	for i := 0; i < 3; i++ {
		require.True(t, l.OwnedByCurrent())
		l.Release()
	}
	require.False(t, l.OwnedByCurrent())

	// После последнего Release лок доступен другой задаче.
	acquired := make(chan bool, 1)
	go func() {
		ok, err := l.Acquire(context.Background(), -1)
		if err == nil {
			acquired <- ok
			l.Release()
		}
	}()
	select {
	case ok := <-acquired:
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("lock is still held after the final release")
	}
}

func TestNonOwnerRelease(t *testing.T) {
	l := New()
	require.True(t, l.TryAcquire())

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.PanicsWithValue(t, ErrNotOwner, l.Release)
	}()
	<-done

	// Состояние не изменилось.
	require.True(t, l.OwnedByCurrent())
	require.Equal(t, 1, l.count)
	l.Release()
}

func TestReleaseUnlocked(t *testing.T) {
	l := New()
	require.PanicsWithValue(t, ErrNotOwner, l.Release)
}

func TestNonBlockingOnHeldLock(t *testing.T) {
	l := New()

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		if !l.TryAcquire() {
			return
		}
		close(locked)
		<-release
		l.Release()
	}()
	<-locked

	ok, err := l.Acquire(context.Background(), 0)
	require.NoError(t, err)
	require.False(t, ok)
	require.False(t, l.OwnedByCurrent())

	close(release)
	<-done
	require.True(t, l.TryAcquire())
	l.Release()
}

func TestSaveRestore(t *testing.T) {
	l := New()
	me := taskid.Current()

	require.True(t, l.TryAcquire())
	require.True(t, l.TryAcquire())

	count, owner := l.SaveState()
	require.Equal(t, 2, count)
	require.Equal(t, me, owner)
	require.False(t, l.OwnedByCurrent())

	// Пока состояние снято, лок полностью свободен для другой задачи.
	var got bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		got = l.TryAcquire()
		if got {
			l.Release()
		}
	}()
	<-done
	require.True(t, got)

	require.NoError(t, l.RestoreState(context.Background(), count, owner))
	require.True(t, l.OwnedByCurrent())
	require.Equal(t, 2, l.count)

	l.Release()
	require.True(t, l.OwnedByCurrent())
	l.Release()
	require.False(t, l.OwnedByCurrent())
}

func TestSaveRestoreRoundTrip(t *testing.T) {
	l := New()
	require.True(t, l.TryAcquire())
	require.True(t, l.TryAcquire())

	count, owner := l.SaveState()
	require.NoError(t, l.RestoreState(context.Background(), count, owner))

	// Наблюдаемое состояние идентично исходному.
	require.True(t, l.OwnedByCurrent())
	require.Equal(t, 2, l.count)
	l.Release()
	l.Release()
}

func TestAcquireTimeout(t *testing.T) {
	fc := clockwork.NewFakeClock()
	l := New(WithClock(fc))

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		if !l.TryAcquire() {
			return
		}
		close(locked)
		<-release
		l.Release()
	}()
	<-locked

	res := make(chan bool, 1)
	go func() {
		if ok, err := l.Acquire(context.Background(), time.Minute); err == nil {
			res <- ok
		}
	}()

	fc.BlockUntil(1)
	fc.Advance(time.Minute)

	select {
	case ok := <-res:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("timed-out acquire did not return")
	}

	close(release)
	<-done
	require.True(t, l.TryAcquire())
	l.Release()
}

func TestDo(t *testing.T) {
	l := New()

	require.NoError(t, l.Do(context.Background(), func() {
		require.True(t, l.OwnedByCurrent())
		// Вложенный захват внутри Do.
		require.True(t, l.TryAcquire())
		l.Release()
	}))
	require.False(t, l.OwnedByCurrent())

	require.Panics(t, func() {
		_ = l.Do(context.Background(), func() { panic("boom") })
	})
	require.True(t, l.TryAcquire())
	l.Release()
}

func TestCustomProvider(t *testing.T) {
	// Один ID на две горутины — с точки зрения лока это одна задача.
	l := New(WithProvider(func() taskid.ID { return 7 }))
	require.True(t, l.TryAcquire())

	done := make(chan struct{})
	go func() {
		defer close(done)
		if l.TryAcquire() {
			l.Release()
		}
		l.Release()
	}()
	<-done
	require.False(t, l.OwnedByCurrent())
}
