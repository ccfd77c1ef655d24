package lobby

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/quadra-games/quadra/internal/match"
	"github.com/quadra-games/quadra/internal/registry"
	"github.com/quadra-games/quadra/internal/util/idgen"
	"github.com/quadra-games/quadra/internal/util/slogx"
	"github.com/quadra-games/quadra/internal/wire"
)

func fmtCmd(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}

func (s *Server) reply(log *slog.Logger, sess *session, body string) {
	if err := sess.send(body); err != nil {
		log.Info("reply failed", slogx.Err(err))
	}
}

// handle dispatches one client frame. Every path either answers the client
// directly or forwards the registry's reply unchanged.
func (s *Server) handle(log *slog.Logger, sess *session, req string) {
	verb, args := wire.Command(req)
	if sess.authed {
		log = log.With(slog.String("user", sess.username))
	}
	switch verb {
	case "REGISTER":
		s.handleRegister(log, sess, args)
	case "LOGIN":
		s.handleLogin(log, sess, args)
	case "LOGOUT":
		s.handleLogout(log, sess)
	case "LIST_ONLINE":
		s.forward(log, sess, "User listOnline")
	case "CREATE_ROOM":
		s.handleCreateRoom(log, sess, args)
	case "LIST_ROOMS":
		s.forward(log, sess, "Room list")
	case "JOIN_ROOM":
		s.handleJoinRoom(log, sess, args)
	case "LEAVE_ROOM":
		s.handleLeaveRoom(log, sess)
	case "SPECTATE":
		s.handleSpectate(log, sess, args)
	case "UNSPECTATE":
		s.handleUnspectate(log, sess)
	case "INVITE":
		s.handleInvite(log, sess, args)
	case "LIST_INVITES":
		s.handleListInvites(log, sess)
	case "START_GAME":
		s.handleStartGame(log, sess)
	default:
		s.reply(log, sess, "ERR unknown_command")
	}
}

func (s *Server) requireAuth(log *slog.Logger, sess *session) bool {
	if !sess.authed {
		s.reply(log, sess, "ERR not_logged_in")
		return false
	}
	return true
}

// forward relays a registry verb verbatim and the registry's reply verbatim.
func (s *Server) forward(log *slog.Logger, sess *session, cmd string) {
	reply, err := s.rsDo(cmd)
	if err != nil {
		s.reply(log, sess, "ERR db")
		return
	}
	s.reply(log, sess, reply)
}

func (s *Server) handleRegister(log *slog.Logger, sess *session, args []string) {
	if !sess.authLimiter.Allow() {
		s.reply(log, sess, "ERR too_many_attempts")
		return
	}
	if len(args) < 2 {
		s.reply(log, sess, "ERR missing_username")
		return
	}
	username, password := args[0], args[1]
	if err := validateUsername(username); err != nil {
		s.reply(log, sess, "ERR invalid_username")
		return
	}
	if err := validatePassword(password); err != nil {
		s.reply(log, sess, "ERR invalid_password")
		return
	}
	hash, err := hashPassword(password)
	if err != nil {
		log.Error("hash password failed", slogx.Err(err))
		s.reply(log, sess, "ERR internal")
		return
	}
	reply, err := s.rsDo("User create username=" + username + " pass=" + hash)
	if err != nil {
		s.reply(log, sess, "ERR db")
		return
	}
	if wire.IsOK(reply) {
		log.Info("user registered", slog.String("user", username))
	}
	s.reply(log, sess, reply)
}

func (s *Server) handleLogin(log *slog.Logger, sess *session, args []string) {
	if !sess.authLimiter.Allow() {
		s.reply(log, sess, "ERR too_many_attempts")
		return
	}
	if len(args) < 2 {
		s.reply(log, sess, "ERR missing_username")
		return
	}
	username, password := args[0], args[1]
	reply, err := s.rsDo("User read username=" + username)
	if err != nil {
		s.reply(log, sess, "ERR db")
		return
	}
	ok, kv := wire.ParseReply(reply)
	if !ok {
		s.reply(log, sess, reply)
		return
	}
	if kv["online"] == "1" || s.findSession(username) != nil {
		log.Info("login rejected: already online", slog.String("user", username))
		s.reply(log, sess, "ERR already_online")
		return
	}
	if !verifyPassword(password, kv["pass"]) {
		log.Info("login rejected: bad credentials", slog.String("user", username))
		s.reply(log, sess, "ERR bad_credentials")
		return
	}
	// The CAS is what actually wins the login: a concurrent attempt that
	// passed the checks above loses here with a mismatch.
	acquire, err := s.rsDo("User compareSetOnline username=" + username + " expect=0 value=1")
	if err != nil {
		s.reply(log, sess, "ERR db")
		return
	}
	if !wire.IsOK(acquire) {
		if acquire == "ERR mismatch" {
			log.Info("login rejected: lost race", slog.String("user", username))
			s.reply(log, sess, "ERR already_online")
		} else {
			s.reply(log, sess, acquire)
		}
		return
	}
	s.mu.Lock()
	sess.username = username
	sess.authed = true
	s.mu.Unlock()
	log.Info("login ok", slog.String("user", username))
	s.reply(log, sess, "OK LOGIN")
}

func (s *Server) handleLogout(log *slog.Logger, sess *session) {
	if !s.requireAuth(log, sess) {
		return
	}
	username := sess.username
	if _, err := s.rsDo("User setOnline username=" + username + " online=0"); err != nil {
		s.reply(log, sess, "ERR db")
		return
	}
	if sess.roomID != 0 {
		if _, err := s.rsDo(fmtCmd("Room leave roomId=%d user=%s", sess.roomID, username)); err != nil {
			s.reply(log, sess, "ERR db")
			return
		}
	}
	if sess.spectateRoomID != 0 {
		if _, err := s.rsDo(fmtCmd("Room unspectate roomId=%d user=%s", sess.spectateRoomID, username)); err != nil {
			s.reply(log, sess, "ERR db")
			return
		}
	}
	s.mu.Lock()
	sess.username = ""
	sess.authed = false
	sess.roomID = 0
	sess.spectateRoomID = 0
	s.mu.Unlock()
	log.Info("logout ok", slog.String("user", username))
	s.reply(log, sess, "OK LOGOUT")
}

func (s *Server) handleCreateRoom(log *slog.Logger, sess *session, args []string) {
	if !s.requireAuth(log, sess) {
		return
	}
	var name, visibility string
	if len(args) > 0 {
		name = args[0]
	}
	if len(args) > 1 {
		visibility = args[1]
	}
	if visibility == "" {
		visibility = registry.VisibilityPublic
	}
	reply, err := s.rsDo(fmtCmd("Room create name=%s host=%s visibility=%s", name, sess.username, visibility))
	if err != nil {
		s.reply(log, sess, "ERR db")
		return
	}
	ok, kv := wire.ParseReply(reply)
	rid, ridErr := strconv.Atoi(kv["roomId"])
	if !ok || ridErr != nil {
		s.reply(log, sess, "ERR create_failed")
		return
	}
	s.mu.Lock()
	sess.roomID = rid
	sess.spectateRoomID = 0
	s.mu.Unlock()
	log.Info("room created", slog.Int("room", rid), slog.String("visibility", visibility))
	s.reply(log, sess, reply)
}

func (s *Server) handleJoinRoom(log *slog.Logger, sess *session, args []string) {
	if !s.requireAuth(log, sess) {
		return
	}
	if len(args) < 1 {
		s.reply(log, sess, "ERR invalid_room")
		return
	}
	rid, err := strconv.Atoi(args[0])
	if err != nil || rid <= 0 {
		s.reply(log, sess, "ERR invalid_room")
		return
	}
	reply, rsErr := s.rsDo(fmtCmd("Room join roomId=%d user=%s", rid, sess.username))
	if rsErr != nil {
		s.reply(log, sess, "ERR db")
		return
	}
	if !wire.IsOK(reply) {
		s.reply(log, sess, reply)
		return
	}
	s.mu.Lock()
	sess.roomID = rid
	sess.spectateRoomID = 0
	s.mu.Unlock()
	log.Info("room joined", slog.Int("room", rid))
	s.reply(log, sess, "OK joined")
}

func (s *Server) handleLeaveRoom(log *slog.Logger, sess *session) {
	if !s.requireAuth(log, sess) {
		return
	}
	if sess.roomID == 0 {
		s.reply(log, sess, "ERR not_in_room")
		return
	}
	rid := sess.roomID
	reply, err := s.rsDo(fmtCmd("Room leave roomId=%d user=%s", rid, sess.username))
	if err != nil {
		s.reply(log, sess, "ERR db")
		return
	}
	if wire.IsOK(reply) {
		s.mu.Lock()
		sess.roomID = 0
		sess.spectateRoomID = 0
		s.mu.Unlock()
		log.Info("room left", slog.Int("room", rid))
	}
	s.reply(log, sess, reply)
}

func (s *Server) handleSpectate(log *slog.Logger, sess *session, args []string) {
	if !s.requireAuth(log, sess) {
		return
	}
	if len(args) < 1 {
		s.reply(log, sess, "ERR invalid_room")
		return
	}
	rid, err := strconv.Atoi(args[0])
	if err != nil || rid <= 0 {
		s.reply(log, sess, "ERR invalid_room")
		return
	}
	if sess.roomID != 0 {
		s.reply(log, sess, "ERR must_leave_room")
		return
	}
	if sess.spectateRoomID == rid {
		s.reply(log, sess, "ERR already_spectating")
		return
	}
	reply, rsErr := s.rsDo(fmtCmd("Room spectate roomId=%d user=%s", rid, sess.username))
	if rsErr != nil {
		s.reply(log, sess, "ERR db")
		return
	}
	if !wire.IsOK(reply) {
		s.reply(log, sess, reply)
		return
	}
	entry, live := s.matches.Lookup(rid)
	if !live {
		// The room claims to be playing but no local match is running;
		// undo the registry-side spectate before failing.
		s.reply(log, sess, "ERR no_active_game")
		if _, err := s.rsDo(fmtCmd("Room unspectate roomId=%d user=%s", rid, sess.username)); err != nil {
			log.Warn("spectate rollback failed", slogx.Err(err))
		}
		return
	}
	s.mu.Lock()
	sess.spectateRoomID = rid
	s.mu.Unlock()
	log.Info("spectating", slog.Int("room", rid), slog.Int("port", entry.Port))
	s.reply(log, sess, "OK SPECTATE")
	s.reply(log, sess, fmtCmd("SPECTATE_READY port=%d token=%s role=SPEC", entry.Port, entry.Token))
}

func (s *Server) handleUnspectate(log *slog.Logger, sess *session) {
	if !s.requireAuth(log, sess) {
		return
	}
	if sess.spectateRoomID == 0 {
		s.reply(log, sess, "ERR not_spectating")
		return
	}
	rid := sess.spectateRoomID
	reply, err := s.rsDo(fmtCmd("Room unspectate roomId=%d user=%s", rid, sess.username))
	if err != nil {
		s.reply(log, sess, "ERR db")
		return
	}
	if !wire.IsOK(reply) {
		s.reply(log, sess, reply)
		return
	}
	s.mu.Lock()
	sess.spectateRoomID = 0
	s.mu.Unlock()
	log.Info("unspectated", slog.Int("room", rid))
	s.reply(log, sess, "OK UNSPECTATE")
}

func (s *Server) handleInvite(log *slog.Logger, sess *session, args []string) {
	if !s.requireAuth(log, sess) {
		return
	}
	if sess.roomID == 0 {
		s.reply(log, sess, "ERR not_in_room")
		return
	}
	if len(args) < 1 {
		s.reply(log, sess, "ERR missing_user")
		return
	}
	target := args[0]
	rid := sess.roomID
	reply, err := s.rsDo(fmtCmd("Room invite roomId=%d user=%s host=%s", rid, target, sess.username))
	if err != nil {
		s.reply(log, sess, "ERR db")
		return
	}
	s.reply(log, sess, reply)
	if !wire.IsOK(reply) {
		return
	}
	log.Info("invited", slog.Int("room", rid), slog.String("target", target))
	// Best effort: tell the invitee right away if they are connected.
	// The invite itself already succeeded, so failures are only logged.
	info, err := s.rsDo(fmtCmd("Room get roomId=%d", rid))
	if err != nil {
		return
	}
	ok, kv := wire.ParseReply(info)
	if !ok {
		return
	}
	if targetSess := s.findSession(target); targetSess != nil {
		notice := fmtCmd("ROOM_INVITE roomId=%d name=%s host=%s", rid, kv["name"], sess.username)
		if err := targetSess.send(notice); err != nil {
			log.Info("invite push failed", slogx.Err(err))
		}
	}
}

func (s *Server) handleListInvites(log *slog.Logger, sess *session) {
	if !s.requireAuth(log, sess) {
		return
	}
	s.forward(log, sess, "Room listInvites user="+sess.username)
}

func (s *Server) handleStartGame(log *slog.Logger, sess *session) {
	if !s.requireAuth(log, sess) {
		return
	}
	if sess.roomID == 0 {
		s.reply(log, sess, "ERR not_in_room")
		return
	}
	rid := sess.roomID
	details, err := s.rsDo(fmtCmd("Room get roomId=%d", rid))
	if err != nil {
		s.reply(log, sess, "ERR db")
		return
	}
	ok, room := wire.ParseReply(details)
	if !ok {
		s.reply(log, sess, "ERR no_such_room")
		return
	}
	switch {
	case room["host"] != sess.username:
		s.reply(log, sess, "ERR not_host")
		return
	case room["p1"] == "" || room["p2"] == "":
		s.reply(log, sess, "ERR need_2_players")
		return
	case room["status"] != registry.StatusIdle:
		s.reply(log, sess, "ERR already_playing")
		return
	}

	lis, port, err := s.ports.allocate()
	if err != nil {
		log.Warn("game port allocation failed", slogx.Err(err))
		s.reply(log, sess, "ERR cannot_start_game_port")
		return
	}
	token, err := idgen.SecureToken()
	if err != nil {
		_ = lis.Close()
		log.Error("token generation failed", slogx.Err(err))
		s.reply(log, sess, "ERR internal")
		return
	}
	p1, p2 := room["p1"], room["p2"]
	if _, err := s.rsDo(fmtCmd("Room setStatus roomId=%d status=playing", rid)); err != nil {
		_ = lis.Close()
		s.reply(log, sess, "ERR db")
		return
	}
	if _, err := s.rsDo(fmtCmd("Room setToken roomId=%d token=%s", rid, token)); err != nil {
		_ = lis.Close()
		s.reply(log, sess, "ERR db")
		return
	}
	s.matches.Put(rid, match.Entry{Port: port, Token: token})

	ready := fmtCmd("GAME_READY port=%d token=%s", port, token)
	for _, name := range []string{p1, p2} {
		if target := s.findSession(name); target != nil {
			if err := target.send(ready); err != nil {
				log.Info("game ready push failed", slog.String("target", name), slogx.Err(err))
			}
		}
	}
	log.Info("match starting",
		slog.Int("room", rid),
		slog.Int("port", port),
		slog.String("p1", p1),
		slog.String("p2", p2),
	)

	cfg := match.Config{
		RoomID:  rid,
		Players: [2]string{p1, p2},
		Token:   token,
		Seed:    time.Now().UnixNano(),
		Gravity: s.opts.Gravity,
		Matches: s.matches,
		OnFinish: func(roomID int, u1 string, score1 int, u2 string, score2 int) {
			s.onMatchFinished(roomID, u1, score1, u2, score2)
		},
	}
	matchLog := s.log.With(slog.String("component", "match"))
	s.matchWG.Add(1)
	go func() {
		defer s.matchWG.Done()
		match.Run(s.ctx, matchLog, lis, cfg)
	}()
}

// onMatchFinished records the result and returns the room to idle. It runs
// on the match runtime's goroutine, after the runtime has already removed
// itself from the match registry.
func (s *Server) onMatchFinished(roomID int, u1 string, score1 int, u2 string, score2 int) {
	log := s.log.With(slog.Int("room", roomID))
	cmd := fmtCmd("GameLog create roomId=%d user1=%s user2=%s score1=%d score2=%d", roomID, u1, u2, score1, score2)
	if reply, err := s.rsDo(cmd); err != nil {
		log.Error("record game log failed", slogx.Err(err))
	} else if !wire.IsOK(reply) {
		log.Warn("record game log rejected", slog.String("reply", reply))
	}
	if _, err := s.rsDo(fmtCmd("Room setStatus roomId=%d status=idle", roomID)); err != nil {
		log.Error("reset room failed", slogx.Err(err))
	}
	log.Info("match result recorded",
		slog.String("p1", u1), slog.Int("score1", score1),
		slog.String("p2", u2), slog.Int("score2", score2),
	)
}
