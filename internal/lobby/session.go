package lobby

import (
	"net"
	"sync"

	"golang.org/x/time/rate"

	"github.com/quadra-games/quadra/internal/wire"
)

// session is the per-connection state. Replies and unsolicited pushes can
// originate from different goroutines, so writes go through sendMu.
type session struct {
	conn net.Conn

	sendMu sync.Mutex

	// Guarded by the server's session mutex.
	username       string
	authed         bool
	roomID         int
	spectateRoomID int

	// authLimiter throttles REGISTER/LOGIN attempts on this connection.
	authLimiter *rate.Limiter
}

func (c *session) send(body string) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return wire.WriteFrame(c.conn, body)
}
