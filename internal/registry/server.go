package registry

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/quadra-games/quadra/internal/util/slogx"
	"github.com/quadra-games/quadra/internal/wire"
)

// Server accepts framed connections and feeds each request line through the
// store. Connections get their own goroutine; the store's lock provides the
// total order across them.
type Server struct {
	log   *slog.Logger
	store *Store
}

func NewServer(log *slog.Logger, store *Store) *Server {
	return &Server{log: log, store: store}
}

// Serve runs until ctx is canceled or the listener fails. It closes the
// listener on return; in-flight connections are closed as their reads fail.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	stop := context.AfterFunc(ctx, func() { _ = lis.Close() })
	defer stop()

	s.log.Info("registry listening", slog.String("addr", lis.Addr().String()))
	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	log := s.log.With(slog.String("peer", conn.RemoteAddr().String()))
	log.Info("client connected")
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()
	for {
		req, err := wire.ReadFrame(conn)
		if err != nil {
			log.Info("client disconnected", slogx.Err(err))
			return
		}
		reply := s.store.Apply(req)
		if err := wire.WriteFrame(conn, reply); err != nil {
			log.Warn("write reply failed", slogx.Err(err))
			return
		}
	}
}
