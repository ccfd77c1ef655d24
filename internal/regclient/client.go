// Package regclient is the framed request/reply client for the registry
// service. One client owns one TCP pipe; a mutex serializes request/reply
// pairs so that callers on different goroutines cannot interleave frames.
package regclient

import (
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/quadra-games/quadra/internal/wire"
)

type Client struct {
	log  *slog.Logger
	addr string

	mu   sync.Mutex
	conn net.Conn
}

func Dial(log *slog.Logger, addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial registry: %w", err)
	}
	log.Info("connected to registry", slog.String("addr", addr))
	return &Client{log: log, addr: addr, conn: conn}, nil
}

// Do sends one verb line and waits for its reply. An error means the pipe is
// dead; the caller decides whether that is fatal.
func (c *Client) Do(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return "", fmt.Errorf("registry connection closed")
	}
	c.log.Debug("registry tx", slog.String("cmd", cmd))
	if err := wire.WriteFrame(c.conn, cmd); err != nil {
		return "", fmt.Errorf("registry request: %w", err)
	}
	reply, err := wire.ReadFrame(c.conn)
	if err != nil {
		return "", fmt.Errorf("registry reply: %w", err)
	}
	c.log.Debug("registry rx", slog.String("reply", reply))
	return reply, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Request performs a single command over a throwaway connection. The match
// runtime uses it to report results when it has no completion callback.
func Request(log *slog.Logger, addr, cmd string) (string, error) {
	c, err := Dial(log, addr)
	if err != nil {
		return "", err
	}
	defer c.Close()
	return c.Do(cmd)
}
