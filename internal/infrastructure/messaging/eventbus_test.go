package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dojo-hub/progression-engine/internal/domain/shared"
)

func syncBus() *InMemoryEventBus {
	return NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: false})
}

func TestInMemoryEventBus_Routing(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var typed, all []shared.EventType
	require.NoError(t, bus.Subscribe(shared.EventDegreeGranted, func(e shared.Event) error {
		typed = append(typed, e.EventType())
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		all = append(all, e.EventType())
		return nil
	}))

	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, bus.Publish(shared.NewDegreeGrantedEvent("p-1", "WHITE", 1, "coach-1", "MANUAL", at)))
	require.NoError(t, bus.Publish(shared.NewBeltPromotedEvent("p-1", "WHITE", "BLUE", "coach-1", "MANUAL", at)))

	assert.Equal(t, []shared.EventType{shared.EventDegreeGranted}, typed)
	assert.Equal(t, []shared.EventType{shared.EventDegreeGranted, shared.EventBeltPromoted}, all)
}

func TestInMemoryEventBus_HandlerFailuresAreContained(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	calls := 0
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("boom") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return errors.New("fail") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { calls++; return nil }))

	err := bus.Publish(shared.NewPractitionerEnrolledEvent("p-1", "a-1", "WHITE", time.Now()))
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestInMemoryEventBus_Closed(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(shared.NewPractitionerEnrolledEvent("p-1", "a-1", "WHITE", time.Now())), ErrEventBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll(func(shared.Event) error { return nil }), ErrEventBusClosed)
}

func TestInMemoryEventBus_AsyncKeepsPerPractitionerOrder(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{AsyncMode: true, Lanes: 3, LaneBuffer: 2})

	var mu sync.Mutex
	seen := map[string][]int{}
	require.NoError(t, bus.Subscribe(shared.EventAttendanceRecorded, func(e shared.Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen[e.AggregateID()] = append(seen[e.AggregateID()], e.Payload()["classes_in_cycle"].(int))
		return nil
	}))

	for i := 1; i <= 20; i++ {
		require.NoError(t, bus.Publish(shared.NewAttendanceRecordedEvent("p-1", i, time.Now())))
		require.NoError(t, bus.Publish(shared.NewAttendanceRecordedEvent("p-2", i, time.Now())))
	}
	// Close drains every queued event.
	require.NoError(t, bus.Close())

	mu.Lock()
	defer mu.Unlock()
	for _, id := range []string{"p-1", "p-2"} {
		require.Len(t, seen[id], 20, id)
		for i, n := range seen[id] {
			assert.Equal(t, i+1, n)
		}
	}
}

// fakeRedis loops published messages back to subscribers.
type fakeRedis struct {
	mu   sync.Mutex
	subs []chan RedisMessage
	sent []string
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	payload := message.(string)
	f.sent = append(f.sent, payload)
	for _, ch := range f.subs {
		ch <- RedisMessage{Channel: channel, Payload: payload}
	}
	return nil
}

func (f *fakeRedis) Subscribe(context.Context, ...string) (<-chan RedisMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan RedisMessage, 16)
	f.subs = append(f.subs, ch)
	return ch, nil
}

func (f *fakeRedis) Close() error { return nil }

func (f *fakeRedis) inject(t *testing.T, env eventEnvelope) {
	t.Helper()
	data, err := json.Marshal(env)
	require.NoError(t, err)
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		ch <- RedisMessage{Payload: string(data)}
	}
}

func TestRedisEventBus_SkipsOwnMessagesAndDeliversRemote(t *testing.T) {
	client := &fakeRedis{}
	bus, err := NewRedisEventBus(RedisEventBusConfig{
		Client:         client,
		InstanceID:     "me",
		LocalBusConfig: InMemoryEventBusConfig{AsyncMode: false},
	})
	require.NoError(t, err)
	defer bus.Close()

	got := make(chan shared.Event, 4)
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		got <- e
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewDegreeGrantedEvent("p-1", "WHITE", 1, "coach-1", "MANUAL", time.Now())))
	first := <-got
	assert.Equal(t, "p-1", first.AggregateID())

	client.inject(t, eventEnvelope{
		InstanceID:  "other",
		EventType:   shared.EventBeltPromoted,
		AggregateID: "p-2",
		OccurredAt:  time.Now(),
		Payload:     map[string]interface{}{"to_belt": "BLUE"},
	})

	select {
	case e := <-got:
		assert.Equal(t, shared.EventBeltPromoted, e.EventType())
		assert.Equal(t, "p-2", e.AggregateID())
		assert.Equal(t, "BLUE", e.Payload()["to_belt"])
	case <-time.After(time.Second):
		t.Fatal("remote event not delivered")
	}

	// Our own message was published once and not re-delivered.
	select {
	case e := <-got:
		t.Fatalf("unexpected event %s", e.EventType())
	case <-time.After(50 * time.Millisecond):
	}
	assert.Len(t, client.sent, 1)
}
