package server

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/aasharing/internal/chain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	realtimeEventContract  = "contract-event"
	realtimeEventHeartbeat = "heartbeat"
	realtimeSourceBackend  = "aasharing-backend"
)

// RealtimeMessage is a committed contract event addressed to one account.
type RealtimeMessage struct {
	Address string
	Event   chain.Event
}

// RealtimeDispatcher fans committed events out to the open streams of their audience.
// It satisfies chain.Publisher.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  64,
	}
}

func (d *RealtimeDispatcher) Subscribe(ctx context.Context, address string) (<-chan RealtimeMessage, func()) {
	if address == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(address, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(address, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers each event once to every subscriber of every distinct audience member.
// Slow subscribers drop messages rather than block the committing transaction.
func (d *RealtimeDispatcher) Publish(events []chain.Event) {
	for _, event := range events {
		seen := make(map[string]struct{}, len(event.Audience))
		for _, member := range event.Audience {
			if member == chain.ZeroAddress {
				continue
			}
			address := member.Hex()
			if _, ok := seen[address]; ok {
				continue
			}
			seen[address] = struct{}{}
			d.deliver(RealtimeMessage{Address: address, Event: event})
		}
	}
}

func (d *RealtimeDispatcher) deliver(message RealtimeMessage) {
	d.mu.RLock()
	subscribers := d.subscribers[message.Address]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

func (d *RealtimeDispatcher) subscriberCount(address string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[address])
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(address string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[address]; !ok {
		d.subscribers[address] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[address][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(address string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[address]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, address)
		}
	}
	d.mu.Unlock()
}

type heartbeatPayload struct {
	Source    string `json:"source"`
	Timestamp int64  `json:"timestamp_s"`
}

func (h *httpHandler) handleEventStream(c *gin.Context) {
	address := callerAddress(c)
	ctx := c.Request.Context()
	messages, cleanup := h.realtime.Subscribe(ctx, address.Hex())
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	h.logger.Debug("event stream opened", zap.String("address", address.Hex()))
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-messages:
			if !ok {
				return false
			}
			c.SSEvent(realtimeEventContract, newEventPayload(message.Event))
			return true
		case tick := <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, heartbeatPayload{Source: realtimeSourceBackend, Timestamp: tick.Unix()})
			return true
		}
	})
	h.logger.Debug("event stream closed", zap.String("address", address.Hex()))
}
