package registry

import (
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"

	petname "github.com/dustinkirkland/golang-petname"

	"github.com/quadra-games/quadra/internal/wire"
)

type Store struct {
	log *slog.Logger

	mu         sync.Mutex
	users      map[string]*User
	rooms      map[int]*Room
	logs       []GameLog
	nextRoomID int
	nextGameID int
}

func NewStore(log *slog.Logger) *Store {
	return &Store{
		log:        log,
		users:      make(map[string]*User),
		rooms:      make(map[int]*Room),
		nextRoomID: 1,
		nextGameID: 1,
	}
}

// Apply executes one verb line and returns the reply. The store lock is held
// for the whole request, so every OK/ERR reply reflects a state that all
// other verbs observed.
func (s *Store) Apply(req string) string {
	coll, args := wire.Command(req)
	var action string
	if len(args) > 0 {
		action, args = args[0], args[1:]
	}
	kv := wire.ParseKV(args)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch coll + " " + action {
	case "User create":
		return s.userCreate(kv)
	case "User read":
		return s.userRead(kv)
	case "User compareSetOnline":
		return s.userCompareSetOnline(kv)
	case "User setOnline":
		return s.userSetOnline(kv)
	case "User listOnline":
		return s.userListOnline()
	case "Room create":
		return s.roomCreate(kv)
	case "Room list":
		return s.roomList()
	case "Room get":
		return s.roomGet(kv)
	case "Room join":
		return s.roomJoin(kv)
	case "Room leave":
		return s.roomLeave(kv)
	case "Room invite":
		return s.roomInvite(kv)
	case "Room listInvites":
		return s.roomListInvites(kv)
	case "Room spectate":
		return s.roomSpectate(kv)
	case "Room unspectate":
		return s.roomUnspectate(kv)
	case "Room setStatus":
		return s.roomSetStatus(kv)
	case "Room setToken":
		return s.roomSetToken(kv)
	case "GameLog create":
		return s.gameLogCreate(kv)
	case "GameLog list":
		return s.gameLogList()
	default:
		return "ERR unknown_command"
	}
}

func intField(kv map[string]string, key string) (int, bool) {
	text, ok := kv[key]
	if !ok || text == "" {
		return 0, false
	}
	v, err := strconv.Atoi(text)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

func (s *Store) userCreate(kv map[string]string) string {
	uname := kv["username"]
	if uname == "" {
		return "ERR missing_username"
	}
	if _, ok := s.users[uname]; ok {
		return "ERR exists"
	}
	s.users[uname] = &User{Username: uname, Pass: kv["pass"]}
	s.log.Info("user created", slog.String("user", uname))
	return "OK user=" + uname
}

func (s *Store) userRead(kv map[string]string) string {
	u, ok := s.users[kv["username"]]
	if !ok {
		return "ERR not_found"
	}
	return fmt.Sprintf("OK username=%s pass=%s online=%s", u.Username, u.Pass, boolFlag(u.Online))
}

func (s *Store) userCompareSetOnline(kv map[string]string) string {
	uname := kv["username"]
	if uname == "" {
		return "ERR missing_username"
	}
	expect, ok := intField(kv, "expect")
	if !ok || expect > 1 {
		return "ERR invalid_expect"
	}
	value, ok := intField(kv, "value")
	if !ok || value > 1 {
		return "ERR invalid_value"
	}
	u, ok := s.users[uname]
	if !ok {
		return "ERR not_found"
	}
	if u.Online != (expect == 1) {
		return "ERR mismatch"
	}
	u.Online = value == 1
	return "OK"
}

func (s *Store) userSetOnline(kv map[string]string) string {
	u, ok := s.users[kv["username"]]
	if !ok {
		return "ERR not_found"
	}
	u.Online = kv["online"] == "1"
	return "OK"
}

func (s *Store) userListOnline() string {
	var names []string
	for name, u := range s.users {
		if u.Online {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	if len(names) == 0 {
		return "OK"
	}
	return "OK " + strings.Join(names, ",")
}

func (s *Store) roomCreate(kv map[string]string) string {
	r := newRoom(s.nextRoomID)
	s.nextRoomID++
	r.Name = kv["name"]
	if r.Name == "" {
		r.Name = petname.Generate(2, "-")
	}
	r.Host = kv["host"]
	r.P1 = kv["host"]
	if vis := strings.ToLower(kv["visibility"]); vis == VisibilityPrivate {
		r.Visibility = VisibilityPrivate
	}
	s.rooms[r.ID] = r
	s.log.Info("room created",
		slog.Int("room", r.ID),
		slog.String("host", r.Host),
		slog.String("visibility", r.Visibility),
	)
	return "OK roomId=" + strconv.Itoa(r.ID)
}

func (s *Store) sortedRoomIDs() []int {
	ids := make([]int, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (s *Store) roomList() string {
	var b strings.Builder
	b.WriteString("OK")
	first := true
	for _, id := range s.sortedRoomIDs() {
		r := s.rooms[id]
		if r.Visibility != VisibilityPublic {
			continue
		}
		if first {
			b.WriteByte(' ')
			first = false
		}
		fmt.Fprintf(&b, "%d:%s:%s:%s:%s:%s:%s;", r.ID, r.Name, r.Host, r.Status, r.Visibility, r.P1, r.P2)
	}
	return b.String()
}

func (s *Store) roomGet(kv map[string]string) string {
	rid, ok := intField(kv, "roomId")
	if !ok {
		return "ERR invalid_roomId"
	}
	r, ok := s.rooms[rid]
	if !ok {
		return "ERR not_found"
	}
	return fmt.Sprintf("OK id=%d name=%s host=%s status=%s p1=%s p2=%s token=%s",
		r.ID, r.Name, r.Host, r.Status, r.P1, r.P2, r.Token)
}

func (s *Store) roomJoin(kv map[string]string) string {
	rid, ok := intField(kv, "roomId")
	if !ok {
		return "ERR invalid_roomId"
	}
	user := kv["user"]
	if user == "" {
		return "ERR missing_user"
	}
	r, ok := s.rooms[rid]
	if !ok {
		return "ERR not_found"
	}
	switch {
	case r.Status != StatusIdle:
		return "ERR playing"
	case r.P2 != "":
		return "ERR full"
	case r.P1 == user:
		return "ERR already_in_room"
	}
	if _, invited := r.Invites[user]; r.Visibility != VisibilityPublic && !invited {
		return "ERR private_room_not_invited"
	}
	r.P2 = user
	delete(r.Invites, user)
	s.log.Info("room joined", slog.Int("room", rid), slog.String("user", user))
	return "OK"
}

func (s *Store) roomLeave(kv map[string]string) string {
	rid, ok := intField(kv, "roomId")
	if !ok {
		return "ERR invalid_roomId"
	}
	user := kv["user"]
	if user == "" {
		return "ERR missing_user"
	}
	r, ok := s.rooms[rid]
	if !ok {
		return "ERR not_found"
	}
	if _, spec := r.Spectators[user]; spec {
		delete(r.Spectators, user)
		return "OK"
	}
	if r.Host != user && r.P1 != user && r.P2 != user {
		return "ERR not_in_room"
	}
	if r.Host == user {
		if r.P2 == "" {
			delete(s.rooms, rid)
			s.log.Info("room closed", slog.Int("room", rid), slog.String("host", user))
			return "OK closed"
		}
		// Host handoff: the remaining player takes over and the room
		// falls back to a fresh idle state.
		r.Host = r.P2
		r.P1 = r.P2
		r.P2 = ""
		r.Status = StatusIdle
		r.resetTransient()
		s.log.Info("room host handoff", slog.Int("room", rid), slog.String("host", r.Host))
		return "OK"
	}
	if r.P2 == user {
		r.P2 = ""
	}
	if r.P1 == user {
		r.P1 = ""
	}
	r.Status = StatusIdle
	r.resetTransient()
	return "OK"
}

func (s *Store) roomInvite(kv map[string]string) string {
	rid, ok := intField(kv, "roomId")
	if !ok {
		return "ERR invalid_roomId"
	}
	host := kv["host"]
	if host == "" {
		return "ERR missing_host"
	}
	user := kv["user"]
	if user == "" {
		return "ERR missing_user"
	}
	r, ok := s.rooms[rid]
	if !ok {
		return "ERR not_found"
	}
	if r.Host != host {
		return "ERR not_host"
	}
	r.Invites[user] = struct{}{}
	return "OK invited=" + user
}

func (s *Store) roomListInvites(kv map[string]string) string {
	user := kv["user"]
	if user == "" {
		return "ERR missing_user"
	}
	var b strings.Builder
	b.WriteString("OK")
	first := true
	for _, id := range s.sortedRoomIDs() {
		r := s.rooms[id]
		if _, ok := r.Invites[user]; !ok {
			continue
		}
		if first {
			b.WriteByte(' ')
			first = false
		}
		fmt.Fprintf(&b, "%d:%s:%s;", r.ID, r.Name, r.Host)
	}
	return b.String()
}

func (s *Store) roomSpectate(kv map[string]string) string {
	rid, ok := intField(kv, "roomId")
	if !ok {
		return "ERR invalid_roomId"
	}
	user := kv["user"]
	if user == "" {
		return "ERR missing_user"
	}
	r, ok := s.rooms[rid]
	if !ok {
		return "ERR not_found"
	}
	if r.Status != StatusPlaying {
		return "ERR not_playing"
	}
	r.Spectators[user] = struct{}{}
	return "OK"
}

func (s *Store) roomUnspectate(kv map[string]string) string {
	rid, ok := intField(kv, "roomId")
	if !ok {
		return "ERR invalid_roomId"
	}
	user := kv["user"]
	if user == "" {
		return "ERR missing_user"
	}
	r, ok := s.rooms[rid]
	if !ok {
		return "ERR not_found"
	}
	if _, spec := r.Spectators[user]; !spec {
		return "ERR not_spectating"
	}
	delete(r.Spectators, user)
	return "OK"
}

func (s *Store) roomSetStatus(kv map[string]string) string {
	rid, ok := intField(kv, "roomId")
	if !ok {
		return "ERR invalid_roomId"
	}
	status := kv["status"]
	if status == "" {
		return "ERR missing_status"
	}
	r, ok := s.rooms[rid]
	if !ok {
		return "ERR not_found"
	}
	r.Status = status
	if r.Status == StatusIdle {
		r.resetTransient()
	}
	return "OK"
}

func (s *Store) roomSetToken(kv map[string]string) string {
	rid, ok := intField(kv, "roomId")
	if !ok {
		return "ERR invalid_roomId"
	}
	token := kv["token"]
	if token == "" {
		return "ERR missing_token"
	}
	r, ok := s.rooms[rid]
	if !ok {
		return "ERR not_found"
	}
	r.Token = token
	return "OK"
}

func (s *Store) gameLogCreate(kv map[string]string) string {
	rid, ok := intField(kv, "roomId")
	if !ok {
		return "ERR invalid_roomId"
	}
	score1, ok := intField(kv, "score1")
	if !ok {
		return "ERR invalid_score1"
	}
	score2, ok := intField(kv, "score2")
	if !ok {
		return "ERR invalid_score2"
	}
	user1, user2 := kv["user1"], kv["user2"]
	if user1 == "" || user2 == "" {
		return "ERR missing_user"
	}
	g := GameLog{
		ID:     s.nextGameID,
		RoomID: rid,
		User1:  user1,
		User2:  user2,
		Score1: score1,
		Score2: score2,
	}
	s.nextGameID++
	s.logs = append(s.logs, g)
	s.log.Info("game log appended",
		slog.Int("game", g.ID),
		slog.Int("room", g.RoomID),
		slog.Int("score1", g.Score1),
		slog.Int("score2", g.Score2),
	)
	return "OK gameId=" + strconv.Itoa(g.ID)
}

func (s *Store) gameLogList() string {
	var b strings.Builder
	b.WriteString("OK")
	for i, g := range s.logs {
		if i == 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "id=%d room=%d p1=%s s1=%d p2=%s s2=%d;", g.ID, g.RoomID, g.User1, g.Score1, g.User2, g.Score2)
	}
	return b.String()
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
