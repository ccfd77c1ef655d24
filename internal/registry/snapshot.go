package registry

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
)

// The snapshot is a line-oriented text file, one record per line:
//
//	USER "username" "passhash" {0|1}
//	ROOM id "name" "host" "visibility" "status" "p1" "p2" "token" <n> "inv"... <n> "spec"...
//	LOG id room_id "u1" "u2" s1 s2
//
// Blank lines and lines starting with '#' are skipped, as are records that
// fail to parse.

// Load reads the snapshot file. A missing file is not an error: the store
// simply starts empty. Every user is forced offline, since no session
// survives a restart, and the id counters are derived from the loaded maxima.
func (s *Store) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.log.Info("no snapshot file, starting empty", slog.String("path", path))
			return nil
		}
		return fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	s.mu.Lock()
	defer s.mu.Unlock()

	maxRoom, maxLog := 0, 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		toks, err := splitRecord(line)
		if err != nil || len(toks) == 0 {
			s.log.Warn("skipping malformed snapshot line", slog.String("line", line))
			continue
		}
		switch toks[0] {
		case "USER":
			if len(toks) != 4 {
				continue
			}
			online, err := strconv.Atoi(toks[3])
			if err != nil {
				continue
			}
			s.users[toks[1]] = &User{Username: toks[1], Pass: toks[2], Online: online != 0}
		case "ROOM":
			r, ok := parseRoomRecord(toks[1:])
			if !ok {
				continue
			}
			s.rooms[r.ID] = r
			maxRoom = max(maxRoom, r.ID)
		case "LOG":
			if len(toks) != 7 {
				continue
			}
			nums := make([]int, 0, 4)
			bad := false
			for _, idx := range []int{1, 2, 5, 6} {
				n, err := strconv.Atoi(toks[idx])
				if err != nil {
					bad = true
					break
				}
				nums = append(nums, n)
			}
			if bad {
				continue
			}
			g := GameLog{ID: nums[0], RoomID: nums[1], User1: toks[3], User2: toks[4], Score1: nums[2], Score2: nums[3]}
			s.logs = append(s.logs, g)
			maxLog = max(maxLog, g.ID)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("scan snapshot: %w", err)
	}
	for _, u := range s.users {
		u.Online = false
	}
	if maxRoom >= s.nextRoomID {
		s.nextRoomID = maxRoom + 1
	}
	if maxLog >= s.nextGameID {
		s.nextGameID = maxLog + 1
	}
	s.log.Info("snapshot loaded",
		slog.String("path", path),
		slog.Int("users", len(s.users)),
		slog.Int("rooms", len(s.rooms)),
		slog.Int("logs", len(s.logs)),
	)
	return nil
}

// Save rewrites the snapshot from scratch. The write goes to a temp file
// that is renamed over the target, so a crash mid-save leaves the previous
// snapshot intact.
func (s *Store) Save(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	s.mu.Lock()
	err = s.writeSnapshot(f)
	s.mu.Unlock()
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	s.log.Info("snapshot saved", slog.String("path", path))
	return nil
}

func (s *Store) writeSnapshot(w io.Writer) error {
	bw := bufio.NewWriter(w)
	userNames := make([]string, 0, len(s.users))
	for name := range s.users {
		userNames = append(userNames, name)
	}
	slices.Sort(userNames)
	for _, name := range userNames {
		u := s.users[name]
		online := 0
		if u.Online {
			online = 1
		}
		fmt.Fprintf(bw, "USER %s %s %d\n", strconv.Quote(u.Username), strconv.Quote(u.Pass), online)
	}
	for _, id := range s.sortedRoomIDs() {
		r := s.rooms[id]
		fmt.Fprintf(bw, "ROOM %d %s %s %s %s %s %s %s",
			r.ID, strconv.Quote(r.Name), strconv.Quote(r.Host),
			strconv.Quote(r.Visibility), strconv.Quote(r.Status),
			strconv.Quote(r.P1), strconv.Quote(r.P2), strconv.Quote(r.Token))
		for _, set := range []map[string]struct{}{r.Invites, r.Spectators} {
			members := make([]string, 0, len(set))
			for m := range set {
				members = append(members, m)
			}
			slices.Sort(members)
			fmt.Fprintf(bw, " %d", len(members))
			for _, m := range members {
				fmt.Fprintf(bw, " %s", strconv.Quote(m))
			}
		}
		fmt.Fprintln(bw)
	}
	for _, g := range s.logs {
		fmt.Fprintf(bw, "LOG %d %d %s %s %d %d\n",
			g.ID, g.RoomID, strconv.Quote(g.User1), strconv.Quote(g.User2), g.Score1, g.Score2)
	}
	return bw.Flush()
}

func parseRoomRecord(toks []string) (*Room, bool) {
	if len(toks) < 8 {
		return nil, false
	}
	id, err := strconv.Atoi(toks[0])
	if err != nil || id <= 0 {
		return nil, false
	}
	r := newRoom(id)
	r.Name, r.Host, r.Visibility, r.Status = toks[1], toks[2], toks[3], toks[4]
	r.P1, r.P2, r.Token = toks[5], toks[6], toks[7]
	rest := toks[8:]
	for _, set := range []map[string]struct{}{r.Invites, r.Spectators} {
		if len(rest) == 0 {
			break
		}
		n, err := strconv.Atoi(rest[0])
		if err != nil || n < 0 || n > len(rest)-1 {
			return nil, false
		}
		for _, m := range rest[1 : 1+n] {
			set[m] = struct{}{}
		}
		rest = rest[1+n:]
	}
	return r, true
}

// splitRecord tokenizes one snapshot line: bare tokens are split on
// whitespace, quoted tokens follow Go string-literal quoting.
func splitRecord(line string) ([]string, error) {
	var toks []string
	i := 0
	for i < len(line) {
		for i < len(line) && (line[i] == ' ' || line[i] == '\t') {
			i++
		}
		if i >= len(line) {
			break
		}
		if line[i] == '"' {
			end := -1
			for j := i + 1; j < len(line); j++ {
				if line[j] == '\\' {
					j++
					continue
				}
				if line[j] == '"' {
					end = j
					break
				}
			}
			if end < 0 {
				return nil, fmt.Errorf("unterminated quote")
			}
			tok, err := strconv.Unquote(line[i : end+1])
			if err != nil {
				return nil, fmt.Errorf("unquote token: %w", err)
			}
			toks = append(toks, tok)
			i = end + 1
		} else {
			start := i
			for i < len(line) && line[i] != ' ' && line[i] != '\t' {
				i++
			}
			toks = append(toks, line[start:i])
		}
	}
	return toks, nil
}
