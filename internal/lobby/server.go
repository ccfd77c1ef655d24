package lobby

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/quadra-games/quadra/internal/match"
	"github.com/quadra-games/quadra/internal/regclient"
	"github.com/quadra-games/quadra/internal/util/slogx"
	"github.com/quadra-games/quadra/internal/wire"
)

type Server struct {
	log  *slog.Logger
	opts Options
	rs   *regclient.Client

	mu       sync.Mutex
	sessions map[net.Conn]*session

	matches *match.Registry
	ports   *portAllocator

	// ctx/cancel cover the serve loop; armed in Serve. cancel fires when
	// the registry pipe dies; ctx bounds the lifetime of match runtimes.
	ctx     context.Context
	cancel  context.CancelFunc
	matchWG sync.WaitGroup
}

func New(log *slog.Logger, rs *regclient.Client, opts Options) *Server {
	opts.FillDefaults()
	return &Server{
		log:      log,
		opts:     opts,
		rs:       rs,
		sessions: make(map[net.Conn]*session),
		matches:  match.NewRegistry(),
		ports:    newPortAllocator(opts.GamePortMin, opts.GamePortMax),
	}
}

// Serve accepts clients until ctx is canceled or the registry pipe dies.
// On return every client socket is closed, all sessions dropped, and any
// running match runtimes have been waited out.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	s.ctx, s.cancel = ctx, cancel

	// Teardown order: cancel first so match runtimes and connection
	// goroutines unblock, then close sockets, then wait everything out.
	var connWG sync.WaitGroup
	defer s.matchWG.Wait()
	defer connWG.Wait()
	defer s.closeSessions()

	stop := context.AfterFunc(ctx, func() { _ = lis.Close() })
	defer stop()
	defer cancel()

	s.log.Info("lobby listening", slog.String("addr", lis.Addr().String()))
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
		connWG.Add(1)
		go func() {
			defer connWG.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	log := s.log.With(slog.String("peer", conn.RemoteAddr().String()))
	sess := &session{
		conn:        conn,
		authLimiter: rate.NewLimiter(rate.Every(time.Second), s.opts.AuthBurst),
	}
	s.mu.Lock()
	s.sessions[conn] = sess
	s.mu.Unlock()

	log.Info("client connected")
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := sess.send("WELCOME LOBBY"); err != nil {
		log.Info("greeting failed", slogx.Err(err))
	}

	for {
		req, err := wire.ReadFrame(conn)
		if err != nil {
			log.Info("client disconnected", slogx.Err(err))
			break
		}
		s.handle(log, sess, req)
	}
	s.scrub(log, sess)
}

// scrub reverts everything the disconnected session held: online flag, room
// seat, spectator slot. The socket is already dead, so nothing is pushed to
// it; registry errors here are logged and otherwise ignored.
func (s *Server) scrub(log *slog.Logger, sess *session) {
	s.mu.Lock()
	username, authed := sess.username, sess.authed
	roomID, specID := sess.roomID, sess.spectateRoomID
	delete(s.sessions, sess.conn)
	s.mu.Unlock()
	_ = sess.conn.Close()

	if !authed {
		return
	}
	log = log.With(slog.String("user", username))
	if _, err := s.rsDo("User setOnline username=" + username + " online=0"); err != nil {
		log.Warn("scrub: set offline failed", slogx.Err(err))
	}
	if roomID != 0 {
		if _, err := s.rsDo(fmtCmd("Room leave roomId=%d user=%s", roomID, username)); err != nil {
			log.Warn("scrub: room leave failed", slogx.Err(err))
		}
	}
	if specID != 0 {
		if _, err := s.rsDo(fmtCmd("Room unspectate roomId=%d user=%s", specID, username)); err != nil {
			log.Warn("scrub: unspectate failed", slogx.Err(err))
		}
	}
	log.Info("session scrubbed")
}

func (s *Server) closeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.sessions {
		_ = conn.Close()
	}
}

// rsDo forwards one request to the registry. A transport failure is fatal
// for the whole lobby: the serve loop is canceled and the error returned so
// the handler can still answer ERR db to its client.
func (s *Server) rsDo(cmd string) (string, error) {
	reply, err := s.rs.Do(cmd)
	if err != nil {
		s.log.Error("registry pipe failed, shutting down", slogx.Err(err))
		if s.cancel != nil {
			s.cancel()
		}
		return "", err
	}
	return reply, nil
}

// findSession returns the session currently authenticated as username.
func (s *Server) findSession(username string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.authed && sess.username == username {
			return sess
		}
	}
	return nil
}
