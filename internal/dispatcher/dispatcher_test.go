package dispatcher

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger implements Logger for testing
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) Debug(msg string, keysAndValues ...any) {
	l.add("DEBUG", msg, keysAndValues)
}

func (l *testLogger) Info(msg string, keysAndValues ...any) {
	l.add("INFO", msg, keysAndValues)
}

func (l *testLogger) Error(msg string, keysAndValues ...any) {
	l.add("ERROR", msg, keysAndValues)
}

func (l *testLogger) add(level, msg string, kv []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("%s: %s %v", level, msg, kv))
}

func (l *testLogger) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.messages...)
}

func (l *testLogger) hasPrefix(prefix string) bool {
	for _, m := range l.snapshot() {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *testLogger) {
	t.Helper()
	logger := &testLogger{}

	d, err := New(logger)
	require.NoError(t, err, "failed to create dispatcher")

	return d, logger
}

func TestDispatcher_SyncHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var got Event
	d.Register(":SHAPE:", func(e Event) (any, error) {
		got = e
		return "latched", nil
	})

	result, err := d.Dispatch(Event{Command: ":SHAPE:", Args: []string{"star"}})

	require.NoError(t, err)
	assert.Equal(t, "latched", result)
	assert.Equal(t, []string{"star"}, got.Args)
}

func TestDispatcher_UnknownCommand(t *testing.T) {
	d, _ := newTestDispatcher(t)

	_, err := d.Dispatch(Event{Command: ":UNKNOWN:"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command: :UNKNOWN:")
}

func TestDispatcher_BufferedHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var processed atomic.Int32
	var wg sync.WaitGroup
	wg.Add(3)

	d.Register(":POSE:", func(e Event) (any, error) {
		processed.Add(1)
		wg.Done()
		return nil, nil
	}, Buffered(100))

	for i := 0; i < 3; i++ {
		result, err := d.Dispatch(Event{Command: ":POSE:"})
		require.NoError(t, err)
		assert.Equal(t, "queued", result)
	}

	wg.Wait()
	assert.Equal(t, int32(3), processed.Load())
}

func TestDispatcher_BufferedPreservesOrder(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var mu sync.Mutex
	var seen []string
	d.Register(":POSE:", func(e Event) (any, error) {
		mu.Lock()
		seen = append(seen, e.Args[0])
		mu.Unlock()
		return nil, nil
	}, Buffered(4), Blocking())

	want := make([]string, 50)
	for i := range want {
		want[i] = fmt.Sprint(i)
		_, err := d.Dispatch(Event{Command: ":POSE:", Args: []string{want[i]}})
		require.NoError(t, err)
	}

	d.Close()
	assert.Equal(t, want, seen)
}

func TestDispatcher_BufferedDropsWhenFull(t *testing.T) {
	d, _ := newTestDispatcher(t)

	started := make(chan struct{}, 1)
	block := make(chan struct{})
	d.Register(":FULL:", func(e Event) (any, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return nil, nil
	}, Buffered(2))

	d.Dispatch(Event{Command: ":FULL:"}) // being processed
	<-started
	d.Dispatch(Event{Command: ":FULL:"}) // queued
	d.Dispatch(Event{Command: ":FULL:"}) // queued

	_, err := d.Dispatch(Event{Command: ":FULL:"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue full")

	close(block)
}

func TestDispatcher_BufferedBlocking(t *testing.T) {
	d, _ := newTestDispatcher(t)

	started := make(chan struct{}, 1)
	block := make(chan struct{})
	d.Register(":BLOCKING:", func(e Event) (any, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return nil, nil
	}, Buffered(1), Blocking())

	d.Dispatch(Event{Command: ":BLOCKING:"})
	<-started
	d.Dispatch(Event{Command: ":BLOCKING:"})

	done := make(chan struct{})
	go func() {
		d.Dispatch(Event{Command: ":BLOCKING:"})
		close(done)
	}()

	select {
	case <-done:
		t.Error("dispatch should have blocked")
	case <-time.After(50 * time.Millisecond):
	}

	close(block)
	<-done
}

func TestDispatcher_BufferedErrorIsLogged(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(":POSE:", func(e Event) (any, error) {
		return nil, errors.New("bad pose")
	}, Buffered(1))

	_, err := d.Dispatch(Event{Command: ":POSE:"})
	require.NoError(t, err)

	d.Close()
	assert.True(t, logger.hasPrefix("ERROR: buffered event failed"))
}

func TestDispatcher_Close(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var processed atomic.Int32
	d.Register(":POSE:", func(e Event) (any, error) {
		time.Sleep(time.Millisecond)
		processed.Add(1)
		return nil, nil
	}, Buffered(10))
	d.Register(":STATUS:", func(e Event) (any, error) { return "ok", nil })

	for i := 0; i < 5; i++ {
		_, err := d.Dispatch(Event{Command: ":POSE:"})
		require.NoError(t, err)
	}

	d.Close()
	assert.Equal(t, int32(5), processed.Load(), "Close drains the queue")

	_, err := d.Dispatch(Event{Command: ":POSE:"})
	assert.ErrorIs(t, err, ErrClosed)

	result, err := d.Dispatch(Event{Command: ":STATUS:"})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)

	d.Close() // idempotent
}

func TestDispatcher_LoggedHandler(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(":LOGGED:", func(e Event) (any, error) {
		return "ok", nil
	}, Logged())

	d.Dispatch(Event{Command: ":LOGGED:", Args: []string{"a", "b"}})

	msgs := logger.snapshot()
	require.Len(t, msgs, 2)
	assert.True(t, strings.HasPrefix(msgs[0], "DEBUG: handling event"))
	assert.True(t, strings.HasPrefix(msgs[1], "DEBUG: event complete"))
}

func TestDispatcher_LoggedHandlerError(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(":ERROR:", func(e Event) (any, error) {
		return nil, fmt.Errorf("test error")
	}, Logged())

	_, err := d.Dispatch(Event{Command: ":ERROR:"})
	require.Error(t, err)

	assert.True(t, logger.hasPrefix("ERROR: event failed"))
}

func TestDispatcher_HasHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	d.Register(":EXISTS:", func(e Event) (any, error) { return nil, nil })

	assert.True(t, d.HasHandler(":EXISTS:"))
	assert.False(t, d.HasHandler(":NOT_EXISTS:"))
}

func TestDispatcher_CombinedOptions(t *testing.T) {
	d, logger := newTestDispatcher(t)

	var processed atomic.Int32
	d.Register(":COMBINED:", func(e Event) (any, error) {
		processed.Add(1)
		return "done", nil
	}, Buffered(100), Logged())

	result, err := d.Dispatch(Event{Command: ":COMBINED:"})
	require.NoError(t, err)
	assert.Equal(t, "queued", result)

	d.Close()

	assert.Equal(t, int32(1), processed.Load())
	assert.GreaterOrEqual(t, len(logger.snapshot()), 2)
}

func TestDispatcher_SharedQueuePreservesCrossCommandOrder(t *testing.T) {
	d, _ := newTestDispatcher(t)

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var mu sync.Mutex
	var seen []string
	record := func(e Event) (any, error) {
		if e.Args[0] == "p1" {
			started <- struct{}{}
			<-release
		}
		mu.Lock()
		seen = append(seen, e.Args[0])
		mu.Unlock()
		return nil, nil
	}
	d.Register(":POSE:", record, Buffered(8), Queue("frames"), Blocking())
	d.Register(":SHAPE:", record, Buffered(8), Queue("frames"), Blocking())

	_, err := d.Dispatch(Event{Command: ":POSE:", Args: []string{"p1"}})
	require.NoError(t, err)
	<-started

	for _, e := range []Event{
		{Command: ":POSE:", Args: []string{"p2"}},
		{Command: ":SHAPE:", Args: []string{"star"}},
		{Command: ":POSE:", Args: []string{"p3"}},
	} {
		result, err := d.Dispatch(e)
		require.NoError(t, err)
		assert.Equal(t, "queued", result)
	}

	close(release)
	d.Close()
	assert.Equal(t, []string{"p1", "p2", "star", "p3"}, seen)
}

func TestDispatcher_SharedQueueClosesOnce(t *testing.T) {
	d, _ := newTestDispatcher(t)

	noop := func(e Event) (any, error) { return nil, nil }
	d.Register(":A:", noop, Buffered(1), Queue("q"))
	d.Register(":B:", noop, Buffered(1), Queue("q"))

	d.Close()
	_, err := d.Dispatch(Event{Command: ":B:"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDispatcher_Precheck(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var processed atomic.Int32
	d.Register(":SHAPE:", func(e Event) (any, error) {
		processed.Add(1)
		return nil, nil
	}, Buffered(4), Precheck(func(e Event) error {
		switch {
		case len(e.Args) == 0:
			return errors.New("missing shape")
		case e.Args[0] == "hexagon":
			return ErrSkip
		}
		return nil
	}))

	_, err := d.Dispatch(Event{Command: ":SHAPE:"})
	assert.EqualError(t, err, "missing shape")

	result, err := d.Dispatch(Event{Command: ":SHAPE:", Args: []string{"hexagon"}})
	require.NoError(t, err)
	assert.Equal(t, "ignored", result)

	result, err = d.Dispatch(Event{Command: ":SHAPE:", Args: []string{"star"}})
	require.NoError(t, err)
	assert.Equal(t, "queued", result)

	d.Close()
	assert.Equal(t, int32(1), processed.Load())
}
