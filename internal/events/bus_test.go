package events

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietBus(capacity int) *Bus {
	return NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)), capacity)
}

func TestBus_DeliversToSubscribers(t *testing.T) {
	bus := quietBus(10)
	defer bus.Close()

	var mu sync.Mutex
	var got []Event
	bus.Subscribe(func(evt Event) {
		mu.Lock()
		got = append(got, evt)
		mu.Unlock()
	}, 8)

	bus.Source("jtv").Log(LevelError, "upload failed")
	bus.Log(LevelInfo, "pass finished")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "jtv", got[0].Source)
	assert.Equal(t, LevelError, got[0].Level)
	assert.Less(t, got[0].ID, got[1].ID)
	assert.False(t, got[1].Time.IsZero())
}

func TestBus_SlowObserverNeverBlocks(t *testing.T) {
	bus := quietBus(10)
	defer bus.Close()

	release := make(chan struct{})
	bus.Subscribe(func(Event) { <-release }, 1)
	defer close(release)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Log(LevelInfo, "tick")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Log blocked on a slow observer")
	}
}

func TestBus_PanickingObserverIsContained(t *testing.T) {
	bus := quietBus(10)
	defer bus.Close()

	received := make(chan Event, 4)
	bus.Subscribe(func(Event) { panic("observer bug") }, 4)
	bus.Subscribe(func(evt Event) { received <- evt }, 4)

	assert.NotPanics(t, func() {
		bus.Log(LevelWarn, "first")
		bus.Log(LevelWarn, "second")
	})
	for _, want := range []string{"first", "second"} {
		select {
		case evt := <-received:
			assert.Equal(t, want, evt.Message)
		case <-time.After(time.Second):
			t.Fatal("healthy observer starved")
		}
	}
}

func TestBus_RecentIsBounded(t *testing.T) {
	bus := quietBus(3)
	for _, msg := range []string{"a", "b", "c", "d"} {
		bus.Source("kh").Log(LevelInfo, msg)
	}
	bus.Source("hxzy").Log(LevelInfo, "e")

	var msgs []string
	for _, evt := range bus.Recent(0, "") {
		msgs = append(msgs, evt.Message)
	}
	assert.Equal(t, []string{"c", "d", "e"}, msgs)

	kh := bus.Recent(10, "kh")
	require.Len(t, kh, 2)
	assert.Equal(t, "d", kh[1].Message)

	assert.Len(t, bus.Recent(1, ""), 1)
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := quietBus(10)
	var mu sync.Mutex
	count := 0
	id := bus.Subscribe(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	}, 4)
	bus.Unsubscribe(id)
	bus.Unsubscribe(id)

	bus.Log(LevelInfo, "after")
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, count)
}

func TestBus_ServeSSE(t *testing.T) {
	bus := quietBus(10)
	defer bus.Close()
	server := httptest.NewServer(http.HandlerFunc(bus.ServeSSE))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"?source=xuzhoubei", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: connected\n", line)

	bus.Source("jtv").Log(LevelInfo, "other integration")
	bus.Source("xuzhoubei").Log(LevelError, "POST failed")

	for {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: {\"id\"") {
			break
		}
	}
	assert.Contains(t, line, "POST failed")
	assert.NotContains(t, line, "other integration")
}
