package notify

import (
	"sync"
	"sync/atomic"
	"time"

	evbus "github.com/asaskevich/EventBus"
)

// TopicAll receives every notification regardless of severity.
const TopicAll = "notify:all"

// Topic returns the bus topic for a severity.
func Topic(s Severity) string {
	return "notify:" + string(s)
}

// BusNotifier publishes notifications on an event bus from a background worker,
// so Notify never blocks on subscribers. When the queue is full the
// notification is dropped and counted.
type BusNotifier struct {
	bus     evbus.Bus
	queue   chan Notification
	stop    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Int64
	now     func() time.Time
	logger  Logger
}

// NewBusNotifier starts the delivery worker. Call Close to stop it.
func NewBusNotifier(buffer int, logger Logger) *BusNotifier {
	if buffer <= 0 {
		buffer = 256
	}
	b := &BusNotifier{
		bus:    evbus.New(),
		queue:  make(chan Notification, buffer),
		stop:   make(chan struct{}),
		now:    time.Now,
		logger: logger,
	}
	b.wg.Add(1)
	go b.worker()
	return b
}

func (b *BusNotifier) Notify(n Notification) {
	if n.At.IsZero() {
		n.At = b.now()
	}
	select {
	case <-b.stop:
		return
	default:
	}
	select {
	case b.queue <- n:
	default:
		b.dropped.Add(1)
		if b.logger != nil {
			b.logger.Warn("[Notify] queue full, dropped %q", n.Message)
		}
	}
}

// Subscribe registers fn for a topic. fn must have the signature func(Notification).
func (b *BusNotifier) Subscribe(topic string, fn func(Notification)) error {
	return b.bus.Subscribe(topic, fn)
}

func (b *BusNotifier) Unsubscribe(topic string, fn func(Notification)) error {
	return b.bus.Unsubscribe(topic, fn)
}

func (b *BusNotifier) HasSubscribers(topic string) bool {
	return b.bus.HasCallback(topic)
}

// Dropped reports how many notifications were discarded because the queue was full.
func (b *BusNotifier) Dropped() int64 {
	return b.dropped.Load()
}

// Close stops the worker after the queued notifications are delivered.
func (b *BusNotifier) Close() {
	b.once.Do(func() {
		close(b.stop)
		b.wg.Wait()
	})
}

func (b *BusNotifier) worker() {
	defer b.wg.Done()
	for {
		select {
		case n := <-b.queue:
			b.deliver(n)
		case <-b.stop:
			for {
				select {
				case n := <-b.queue:
					b.deliver(n)
				default:
					return
				}
			}
		}
	}
}

func (b *BusNotifier) deliver(n Notification) {
	defer func() {
		if r := recover(); r != nil && b.logger != nil {
			b.logger.Error("[Notify] subscriber panic: %v", r)
		}
	}()
	b.bus.Publish(Topic(n.Severity), n)
	b.bus.Publish(TopicAll, n)
}
