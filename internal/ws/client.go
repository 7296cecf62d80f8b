package ws

import (
	"sync"

	"github.com/DoyleJ11/quiz-arena-backend/internal/metrics"
)

// Client is the lobby-facing side of one websocket connection. Messages are
// queued on out and written by the connection's writer goroutine.
type Client struct {
	id      string
	out     chan []byte
	done    chan struct{}
	once    sync.Once
	metrics *metrics.Metrics
}

func newClient(id string, size int, m *metrics.Metrics) *Client {
	return &Client{
		id:      id,
		out:     make(chan []byte, size),
		done:    make(chan struct{}),
		metrics: m,
	}
}

func (c *Client) ID() string { return c.id }

// Send never blocks. A client whose outbox is full is dropped.
func (c *Client) Send(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.out <- data:
		return true
	case <-c.done:
		return false
	default:
		c.metrics.DroppedClients.Inc()
		c.Close()
		return false
	}
}

func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Client) Done() <-chan struct{} { return c.done }
