// Copyright (C) 2026 VPSWeb
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package progress fans per-task workflow events out to subscribers.
//
// Each task owns a bounded ring of recent events. Subscribing replays the
// buffered events past a caller-supplied sequence number, then tails the
// live stream until the terminal event or the subscriber's context ends.
// Sequence numbers are assigned at publish time under the per-task lock, so
// every subscriber observes the same strictly increasing order. Delivery is
// at-least-once; subscribers deduplicate by seq.
package progress

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/OCboy5/vpsweb/internal/logger"
	"github.com/OCboy5/vpsweb/internal/protocol"
)

const (
	// DefaultCapacity is the per-task ring size.
	DefaultCapacity = 256
	// MinRetained is the floor on ring capacity so late joiners always see
	// recent history.
	MinRetained = 32
	// DefaultHeartbeat is the idle interval after which a synthetic
	// heartbeat is emitted per subscriber.
	DefaultHeartbeat = 30 * time.Second

	subscriberBuffer = 64
	tapBuffer        = 1024
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetProgressLogger()
		log = &l
	})
	return log
}

// Bus is the per-task pub/sub hub.
type Bus struct {
	mu        sync.RWMutex
	streams   map[string]*stream
	capacity  int
	heartbeat time.Duration
	tap       chan protocol.ProgressEvent
}

// stream holds one task's ring buffer and live subscribers.
type stream struct {
	mu       sync.Mutex
	buf      []protocol.ProgressEvent // oldest first, len <= capacity
	nextSeq  uint64
	dropped  uint64 // events evicted from the ring since task start
	subs     map[*subscriber]struct{}
	terminal bool
}

type subscriber struct {
	live chan protocol.ProgressEvent
	gone chan struct{} // closed when the subscriber goroutine exits
	// dropped counts live sends skipped while the channel was full.
	// Guarded by the owning stream's mutex.
	dropped uint64
}

// Option configures a Bus.
type Option func(*Bus)

// WithCapacity sets the per-task ring size (floored at MinRetained).
func WithCapacity(n int) Option {
	return func(b *Bus) {
		if n < MinRetained {
			n = MinRetained
		}
		b.capacity = n
	}
}

// WithHeartbeat sets the per-subscriber idle heartbeat interval.
func WithHeartbeat(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.heartbeat = d
		}
	}
}

// NewBus creates a bus with the given options.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		streams:   make(map[string]*stream),
		capacity:  DefaultCapacity,
		heartbeat: DefaultHeartbeat,
		tap:       make(chan protocol.ProgressEvent, tapBuffer),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) getOrCreate(taskID string) *stream {
	b.mu.RLock()
	s, ok := b.streams[taskID]
	b.mu.RUnlock()
	if ok {
		return s
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok = b.streams[taskID]; ok {
		return s
	}
	s = &stream{nextSeq: 1, subs: make(map[*subscriber]struct{})}
	b.streams[taskID] = s
	return s
}

// Publish stamps the event with the task's next sequence number, buffers
// it, and delivers it to live subscribers and the global tap. Events
// published after the task's terminal event are discarded. Returns the
// assigned seq (0 if discarded).
func (b *Bus) Publish(event protocol.ProgressEvent) uint64 {
	s := b.getOrCreate(event.TaskID)

	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		getLog().Warn().
			Str("task_id", event.TaskID).
			Str("kind", string(event.Kind)).
			Msg("Dropping event published after terminal event")
		return 0
	}

	event.Seq = s.nextSeq
	s.nextSeq++
	if event.Terminal() {
		s.terminal = true
	}

	s.buf = append(s.buf, event)
	if len(s.buf) > b.capacity {
		evict := len(s.buf) - b.capacity
		s.buf = append([]protocol.ProgressEvent(nil), s.buf[evict:]...)
		s.dropped += uint64(evict)
	}

	for sub := range s.subs {
		b.deliver(sub, event)
	}
	s.mu.Unlock()

	// Global tap is best-effort; a slow websocket fan-out must not stall
	// the workflow.
	select {
	case b.tap <- event:
	default:
		getLog().Warn().Str("task_id", event.TaskID).Msg("Global tap full, dropping event")
	}

	return event.Seq
}

// deliver queues an event on one subscriber. Terminal events block until
// the subscriber takes them or goes away; everything else is best-effort.
// Skipped sends are counted per subscriber and surface as a
// backpressure_drop marker the moment the channel has room again, so a
// slow live client learns about its gap without having to resubscribe.
func (b *Bus) deliver(sub *subscriber, event protocol.ProgressEvent) {
	if event.Terminal() {
		if sub.dropped > 0 {
			select {
			case sub.live <- protocol.NewBackpressureDropEvent(event.TaskID, sub.dropped):
				sub.dropped = 0
			case <-sub.gone:
				return
			}
		}
		select {
		case sub.live <- event:
		case <-sub.gone:
		}
		return
	}
	if sub.dropped > 0 {
		select {
		case sub.live <- protocol.NewBackpressureDropEvent(event.TaskID, sub.dropped):
			sub.dropped = 0
		default:
			sub.dropped++
			return
		}
	}
	select {
	case sub.live <- event:
	default:
		sub.dropped++
	}
}

// Subscribe delivers buffered events with seq > lastSeq, then live events,
// on the returned channel. The channel closes after the terminal event or
// when ctx is done. If the ring already evicted events the subscriber
// should have seen, a backpressure_drop marker is delivered first.
func (b *Bus) Subscribe(ctx context.Context, taskID string, lastSeq uint64) <-chan protocol.ProgressEvent {
	out := make(chan protocol.ProgressEvent, subscriberBuffer)
	s := b.getOrCreate(taskID)

	sub := &subscriber{
		live: make(chan protocol.ProgressEvent, subscriberBuffer),
		gone: make(chan struct{}),
	}

	// Registration and snapshot happen under the stream lock, so live
	// events queued on sub.live are exactly those published after the
	// snapshot tail.
	s.mu.Lock()
	var replay []protocol.ProgressEvent
	if s.dropped > 0 && len(s.buf) > 0 && lastSeq+1 < s.buf[0].Seq {
		replay = append(replay, protocol.NewBackpressureDropEvent(taskID, s.buf[0].Seq-lastSeq-1))
	}
	for _, ev := range s.buf {
		if ev.Seq > lastSeq {
			replay = append(replay, ev)
		}
	}
	terminalReplayed := len(replay) > 0 && replay[len(replay)-1].Terminal()
	if !s.terminal || !terminalReplayed {
		// Only tail the live stream if the replay did not already end the
		// subscription.
		s.subs[sub] = struct{}{}
	}
	tailing := !s.terminal || !terminalReplayed
	s.mu.Unlock()

	go b.pump(ctx, s, sub, replay, tailing, out)
	return out
}

// pump runs one subscriber: replay, then live tail with idle heartbeats.
func (b *Bus) pump(ctx context.Context, s *stream, sub *subscriber, replay []protocol.ProgressEvent, tailing bool, out chan<- protocol.ProgressEvent) {
	defer func() {
		close(sub.gone)
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
		close(out)
	}()

	for _, ev := range replay {
		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
		if ev.Terminal() {
			return
		}
	}
	if !tailing {
		return
	}

	idle := time.NewTimer(b.heartbeat)
	defer idle.Stop()

	taskID := firstTaskID(replay, s)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.live:
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(b.heartbeat)
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
			if ev.Terminal() {
				return
			}
		case <-idle.C:
			idle.Reset(b.heartbeat)
			select {
			case out <- protocol.NewHeartbeatEvent(taskID):
			case <-ctx.Done():
				return
			}
		}
	}
}

// firstTaskID recovers the task id for heartbeat synthesis.
func firstTaskID(replay []protocol.ProgressEvent, s *stream) string {
	if len(replay) > 0 {
		return replay[0].TaskID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) > 0 {
		return s.buf[0].TaskID
	}
	return ""
}

// Tap returns the global stream of every published event, shared by all
// callers. Used by the websocket broadcaster.
func (b *Bus) Tap() <-chan protocol.ProgressEvent {
	return b.tap
}

// Remove discards a task's stream. Called when the registry GCs the task;
// at that point the task is terminal and its subscribers have drained.
func (b *Bus) Remove(taskID string) {
	b.mu.Lock()
	delete(b.streams, taskID)
	b.mu.Unlock()
}

// Buffered returns a snapshot of the task's ring, oldest first. Mostly for
// tests and status endpoints.
func (b *Bus) Buffered(taskID string) []protocol.ProgressEvent {
	b.mu.RLock()
	s, ok := b.streams[taskID]
	b.mu.RUnlock()
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.ProgressEvent(nil), s.buf...)
}
