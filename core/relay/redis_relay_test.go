package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"AtmoMix/core/events"

	"github.com/redis/go-redis/v9"
)

type message struct {
	channel string
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	err  error
	msgs []message
	got  chan struct{}
}

func (p *fakePublisher) Publish(ctx context.Context, channel string, msg interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	p.mu.Lock()
	if p.err != nil {
		cmd.SetErr(p.err)
	} else {
		p.msgs = append(p.msgs, message{channel: channel, payload: msg.([]byte)})
		cmd.SetVal(1)
	}
	p.mu.Unlock()
	p.got <- struct{}{}
	return cmd
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for publish")
	}
}

func TestRelayForwardsEvents(t *testing.T) {
	pub := &fakePublisher{got: make(chan struct{}, 4)}
	hub := events.NewHub()
	r := NewRedisRelay(pub, "atmomix:events", 4)
	unsubscribe := r.Attach(hub)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	hub.Publish(events.Event{Kind: events.KindStart, TransitionID: "t1", DurationMs: 2500, Curve: "linear"})
	waitFor(t, pub.got)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.msgs) != 1 || pub.msgs[0].channel != "atmomix:events" {
		t.Fatalf("messages = %+v", pub.msgs)
	}

	var ev events.Event
	if err := json.Unmarshal(pub.msgs[0].payload, &ev); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if ev.Kind != events.KindStart || ev.TransitionID != "t1" || ev.DurationMs != 2500 {
		t.Errorf("decoded = %+v", ev)
	}

	// 计数在 Publish 返回之后更新
	deadline := time.Now().Add(time.Second)
	for {
		if sent, _ := r.Stats(); sent == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("sent counter not updated")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRelayDropsWhenFull(t *testing.T) {
	pub := &fakePublisher{got: make(chan struct{}, 4)}
	r := NewRedisRelay(pub, "c", 1)

	// 未启动 Run，队列只能容纳一条
	r.enqueue(events.Event{Kind: events.KindProgress})
	r.enqueue(events.Event{Kind: events.KindProgress})
	r.enqueue(events.Event{Kind: events.KindProgress})

	if _, dropped := r.Stats(); dropped != 2 {
		t.Fatalf("dropped = %d, want 2", dropped)
	}
}

func TestRelayPublishFailureIsNotCounted(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection refused"), got: make(chan struct{}, 4)}
	r := NewRedisRelay(pub, "c", 4)

	r.publish(context.Background(), events.Event{Kind: events.KindComplete})
	waitFor(t, pub.got)

	if sent, _ := r.Stats(); sent != 0 {
		t.Errorf("sent = %d after failure", sent)
	}
}
