//go:build !change

package gate

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/devopsleague/gevent/taskid"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestReentrantSameContext(t *testing.T) {
	g := New(nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		g.Enter()
		g.Enter()
		g.Enter()
		g.Exit()
		g.Exit()
		g.Exit()
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("nested enter deadlocked")
	}
}

func TestSerializesAcrossContexts(t *testing.T) {
	g := New(nil)

	const (
		goroutines = 8
		iterations = 1000
	)

	var (
		wg  sync.WaitGroup
		cnt int // умышленно без atomic: гонку поймает -race
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				g.Enter()
				cnt++
				g.Exit()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, goroutines*iterations, cnt)
}

func TestHeldUntilDepthZero(t *testing.T) {
	g := New(nil)

	locked := make(chan struct{})
	release := make(chan struct{})
	holderDone := make(chan struct{})
	go func() {
		defer close(holderDone)
		g.Enter()
		g.Enter()
		g.Exit()
		close(locked)
		<-release
		g.Exit()
	}()
	<-locked

	entered := make(chan struct{})
	go func() {
		g.Enter()
		close(entered)
		g.Exit()
	}()

	select {
	case <-entered:
		t.Fatal("gate entered while still held at depth 1")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("gate never released")
	}
	<-holderDone
}

func TestProviderIdentity(t *testing.T) {
	// Две горутины с одним ID ведут себя как один контекст.
	g := New(func() taskid.ID { return 42 })
	g.Enter()

	done := make(chan struct{})
	go func() {
		defer close(done)
		g.Enter()
		g.Exit()
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("same-id enter blocked")
	}
	g.Exit()
}
