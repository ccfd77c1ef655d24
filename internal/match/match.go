package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/quadra-games/quadra/internal/regclient"
	"github.com/quadra-games/quadra/internal/tetris"
	"github.com/quadra-games/quadra/internal/util/slogx"
	"github.com/quadra-games/quadra/internal/wire"
)

// FinishFunc receives the final result when the match loop exits. When nil,
// the runtime reports directly to the registry service at RegistryAddr.
type FinishFunc func(roomID int, p1 string, score1 int, p2 string, score2 int)

type Config struct {
	RoomID  int
	Players [2]string
	Token   string
	Seed    int64
	Gravity time.Duration

	// RegistryAddr is used for direct result reporting when OnFinish is nil.
	RegistryAddr string
	// Matches, when set, has this match's entry removed on exit.
	Matches  *Registry
	OnFinish FinishFunc
}

func (c *Config) FillDefaults() {
	if c.Gravity == 0 {
		c.Gravity = 500 * time.Millisecond
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
}

type evKind int

const (
	evConn evKind = iota
	evFrame
	evClosed
)

type event struct {
	kind evKind
	conn net.Conn
	body string
}

type playerSlot struct {
	name string
	conn net.Conn
	game *tetris.Game
}

type runtime struct {
	log  *slog.Logger
	cfg  Config
	evCh chan event
	done chan struct{}

	players    [2]playerSlot
	spectators map[net.Conn]string
	pending    map[net.Conn]struct{}
	started    bool
}

// Run owns the listener and every connection accepted from it; all are
// closed before it returns. The loop is the single owner of the match state,
// fed by one reader goroutine per connection.
func Run(ctx context.Context, log *slog.Logger, lis net.Listener, cfg Config) {
	cfg.FillDefaults()
	log = log.With(slog.Int("room", cfg.RoomID))

	rt := &runtime{
		log:        log,
		cfg:        cfg,
		evCh:       make(chan event, 64),
		done:       make(chan struct{}),
		spectators: make(map[net.Conn]string),
		pending:    make(map[net.Conn]struct{}),
	}
	rt.players[0].name = cfg.Players[0]
	rt.players[1].name = cfg.Players[1]

	stop := context.AfterFunc(ctx, func() { _ = lis.Close() })
	go rt.acceptLoop(lis)

	rt.loop(ctx)

	close(rt.done)
	stop()
	_ = lis.Close()
	rt.closeAll()

	p1Score, p2Score := rt.score(0), rt.score(1)
	log.Info("match finished",
		slog.String("p1", rt.players[0].name), slog.Int("score1", p1Score),
		slog.String("p2", rt.players[1].name), slog.Int("score2", p2Score),
	)
	if cfg.OnFinish != nil {
		cfg.OnFinish(cfg.RoomID, rt.players[0].name, p1Score, rt.players[1].name, p2Score)
	} else if cfg.RegistryAddr != "" {
		rt.reportDirect(p1Score, p2Score)
	}
	if cfg.Matches != nil {
		cfg.Matches.Remove(cfg.RoomID)
	}
}

func (rt *runtime) acceptLoop(lis net.Listener) {
	for {
		conn, err := lis.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				rt.log.Warn("match accept failed", slogx.Err(err))
			}
			return
		}
		select {
		case rt.evCh <- event{kind: evConn, conn: conn}:
		case <-rt.done:
			_ = conn.Close()
			return
		}
		go rt.readLoop(conn)
	}
}

func (rt *runtime) readLoop(conn net.Conn) {
	for {
		body, err := wire.ReadFrame(conn)
		if err != nil {
			select {
			case rt.evCh <- event{kind: evClosed, conn: conn}:
			case <-rt.done:
			}
			return
		}
		select {
		case rt.evCh <- event{kind: evFrame, conn: conn, body: body}:
		case <-rt.done:
			return
		}
	}
}

func (rt *runtime) loop(ctx context.Context) {
	ticker := time.NewTicker(rt.cfg.Gravity)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-rt.evCh:
			rt.handleEvent(ev)
			if rt.started && rt.anyPlayerOver() {
				rt.finishGame()
				return
			}
		case <-ticker.C:
			// Inputs already queued for this slice apply before gravity.
			rt.drainEvents()
			if !rt.started {
				continue
			}
			rt.tickAndBroadcast()
			if rt.anyPlayerOver() {
				rt.finishGame()
				return
			}
		}
	}
}

func (rt *runtime) drainEvents() {
	for {
		select {
		case ev := <-rt.evCh:
			rt.handleEvent(ev)
		default:
			return
		}
	}
}

func (rt *runtime) handleEvent(ev event) {
	switch ev.kind {
	case evConn:
		rt.pending[ev.conn] = struct{}{}
		rt.log.Info("match client connected", slog.String("peer", ev.conn.RemoteAddr().String()))
	case evClosed:
		rt.dropConn(ev.conn)
	case evFrame:
		verb, args := wire.Command(ev.body)
		switch verb {
		case "HELLO":
			rt.handleHello(ev.conn, wire.ParseKV(args))
		case "INPUT":
			if !rt.started || len(args) == 0 {
				return
			}
			if idx := rt.playerIdx(ev.conn); idx >= 0 {
				rt.players[idx].game.HandleInput(args[0])
			}
		}
	}
}

func (rt *runtime) handleHello(conn net.Conn, kv map[string]string) {
	uname, token := kv["username"], kv["token"]
	wantsSpec := kv["role"] == "SPEC"
	if token != rt.cfg.Token {
		rt.send(conn, "ERR invalid_player_or_token")
		rt.log.Warn("handshake rejected", slog.String("user", uname))
		delete(rt.pending, conn)
		_ = conn.Close()
		return
	}
	welcome := func(role string) string {
		return fmt.Sprintf("WELCOME role=%s seed=%d gravity=%d bag=%d",
			role, rt.cfg.Seed, rt.cfg.Gravity.Milliseconds(), tetris.NumShapes)
	}
	delete(rt.pending, conn)
	for idx := range rt.players {
		p := &rt.players[idx]
		if !wantsSpec && uname == p.name && p.conn == nil {
			p.conn = conn
			rt.send(conn, welcome(fmt.Sprintf("P%d", idx+1)))
			rt.log.Info("player joined", slog.String("user", uname), slog.Int("slot", idx+1))
			rt.maybeStart()
			return
		}
	}
	// Anyone else with a valid token watches, whether or not they asked to.
	rt.spectators[conn] = uname
	rt.send(conn, welcome("SPEC"))
	rt.log.Info("spectator joined", slog.String("user", uname))
}

func (rt *runtime) maybeStart() {
	if rt.started || rt.players[0].conn == nil || rt.players[1].conn == nil {
		return
	}
	for idx := range rt.players {
		rt.players[idx].game = tetris.New(rt.cfg.Seed)
	}
	rt.started = true
	rt.log.Info("match started", slog.Int64("seed", rt.cfg.Seed))
}

func (rt *runtime) dropConn(conn net.Conn) {
	defer conn.Close()
	if idx := rt.playerIdx(conn); idx >= 0 {
		p := &rt.players[idx]
		p.conn = nil
		if rt.started && p.game != nil {
			p.game.SetOver()
		}
		rt.log.Info("player disconnected", slog.String("user", p.name))
		return
	}
	if name, ok := rt.spectators[conn]; ok {
		delete(rt.spectators, conn)
		rt.log.Info("spectator disconnected", slog.String("user", name))
		return
	}
	delete(rt.pending, conn)
}

func (rt *runtime) playerIdx(conn net.Conn) int {
	for idx := range rt.players {
		if rt.players[idx].conn == conn {
			return idx
		}
	}
	return -1
}

func (rt *runtime) liveConns() []net.Conn {
	conns := make([]net.Conn, 0, 2+len(rt.spectators))
	for idx := range rt.players {
		if rt.players[idx].conn != nil {
			conns = append(conns, rt.players[idx].conn)
		}
	}
	for conn := range rt.spectators {
		conns = append(conns, conn)
	}
	return conns
}

func (rt *runtime) tickAndBroadcast() {
	for idx := range rt.players {
		if rt.players[idx].game != nil {
			rt.players[idx].game.Tick()
		}
	}
	conns := rt.liveConns()
	for idx := range rt.players {
		p := &rt.players[idx]
		if p.game == nil {
			continue
		}
		snap := fmt.Sprintf("SNAPSHOT user=%s score=%d lines=%d gameover=%s board=%s",
			p.name, p.game.Score(), p.game.Lines(), boolFlag(p.game.Over()), p.game.BoardSnapshot())
		for _, conn := range conns {
			rt.send(conn, snap)
		}
	}
}

func (rt *runtime) anyPlayerOver() bool {
	for idx := range rt.players {
		if rt.players[idx].game == nil || rt.players[idx].game.Over() {
			return true
		}
	}
	return false
}

func (rt *runtime) finishGame() {
	msg := fmt.Sprintf("GAME_OVER p1_score=%d p2_score=%d", rt.score(0), rt.score(1))
	for _, conn := range rt.liveConns() {
		rt.send(conn, msg)
	}
}

func (rt *runtime) score(idx int) int {
	if rt.players[idx].game == nil {
		return 0
	}
	return rt.players[idx].game.Score()
}

// send failures are not fatal here: a dead peer surfaces through its read
// loop and is handled as a disconnect.
func (rt *runtime) send(conn net.Conn, body string) {
	if err := wire.WriteFrame(conn, body); err != nil {
		rt.log.Debug("match send failed", slogx.Err(err))
	}
}

func (rt *runtime) closeAll() {
	for idx := range rt.players {
		if rt.players[idx].conn != nil {
			_ = rt.players[idx].conn.Close()
		}
	}
	for conn := range rt.spectators {
		_ = conn.Close()
	}
	for conn := range rt.pending {
		_ = conn.Close()
	}
}

// reportDirect writes the game log and resets the room over a throwaway
// registry connection. Failures are logged; sockets are freed regardless.
func (rt *runtime) reportDirect(p1Score, p2Score int) {
	cmd := fmt.Sprintf("GameLog create roomId=%d user1=%s user2=%s score1=%d score2=%d",
		rt.cfg.RoomID, rt.players[0].name, rt.players[1].name, p1Score, p2Score)
	if _, err := regclient.Request(rt.log, rt.cfg.RegistryAddr, cmd); err != nil {
		rt.log.Error("report game log failed", slogx.Err(err))
	}
	cmd = fmt.Sprintf("Room setStatus roomId=%d status=idle", rt.cfg.RoomID)
	if _, err := regclient.Request(rt.log, rt.cfg.RegistryAddr, cmd); err != nil {
		rt.log.Error("reset room status failed", slogx.Err(err))
	}
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
