package queue

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by Enqueue after Close
var ErrClosed = errors.New("queue: closed")

// Memory is an in-process broker. Each stream is a buffered channel; every
// consumer of a stream competes for its messages like members of one group.
type Memory struct {
	mu      sync.Mutex
	streams map[string]chan Message
	dead    map[string][]Message
	size    int
	seq     atomic.Int64
	closed  bool
}

// NewMemory creates a broker whose streams buffer up to size messages
func NewMemory(size int) *Memory {
	if size <= 0 {
		size = 1024
	}
	return &Memory{
		streams: map[string]chan Message{},
		dead:    map[string][]Message{},
		size:    size,
	}
}

func (m *Memory) stream(name string) chan Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.streams[name]
	if !ok {
		ch = make(chan Message, m.size)
		m.streams[name] = ch
	}
	return ch
}

// Enqueue implements Producer
func (m *Memory) Enqueue(ctx context.Context, stream string, msg Message) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if msg.Attempt <= 0 {
		msg.Attempt = 1
	}
	msg.ID = strconv.FormatInt(m.seq.Add(1), 10)
	select {
	case m.stream(stream) <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements Producer
func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Len returns the number of messages waiting in stream
func (m *Memory) Len(stream string) int {
	return len(m.stream(stream))
}

// Dead returns the messages moved to the dead letter stream of stream
func (m *Memory) Dead(stream string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.dead[DLQStream(stream)]...)
}

// Consumer returns a consumer of stream
func (m *Memory) Consumer(stream string, maxAttempts int, block time.Duration) *MemoryConsumer {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if block <= 0 {
		block = 100 * time.Millisecond
	}
	return &MemoryConsumer{broker: m, name: stream, maxAttempts: maxAttempts, block: block}
}

// MemoryConsumer implements Consumer on top of Memory
type MemoryConsumer struct {
	broker      *Memory
	name        string
	maxAttempts int
	block       time.Duration
}

func (c *MemoryConsumer) Stream() string   { return c.name }
func (c *MemoryConsumer) MaxAttempts() int { return c.maxAttempts }

// Read waits up to the block duration for one message, then drains whatever
// else is immediately available
func (c *MemoryConsumer) Read(ctx context.Context) ([]Message, error) {
	ch := c.broker.stream(c.name)
	timer := time.NewTimer(c.block)
	defer timer.Stop()

	var first Message
	select {
	case first = <-ch:
	case <-timer.C:
		return []Message{}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	messages := []Message{first}
	for len(messages) < 10 {
		select {
		case msg := <-ch:
			messages = append(messages, msg)
		default:
			return messages, nil
		}
	}
	return messages, nil
}

// Ack is a no-op; a read message is already removed from the stream
func (c *MemoryConsumer) Ack(context.Context, Message) error { return nil }

func (c *MemoryConsumer) Requeue(ctx context.Context, msg Message, errMsg string) error {
	msg.LastError = errMsg
	msg.Attempt++
	return c.broker.Enqueue(ctx, c.name, msg)
}

func (c *MemoryConsumer) SendDLQ(_ context.Context, msg Message, errMsg string) error {
	msg.LastError = errMsg
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	dlq := DLQStream(c.name)
	c.broker.dead[dlq] = append(c.broker.dead[dlq], msg)
	return nil
}
