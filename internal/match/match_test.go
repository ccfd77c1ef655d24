package match_test

import (
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quadra-games/quadra/internal/match"
	"github.com/quadra-games/quadra/internal/tetris"
	"github.com/quadra-games/quadra/internal/util/slogx"
	"github.com/quadra-games/quadra/internal/wire"
)

const testToken = "tok-test"

type finishResult struct {
	roomID         int
	p1, p2         string
	score1, score2 int
}

// startMatch runs a runtime on a loopback listener and returns its address
// plus a channel that yields the finish callback's arguments.
func startMatch(t *testing.T, cfg match.Config) (string, <-chan finishResult) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	finished := make(chan finishResult, 1)
	cfg.OnFinish = func(roomID int, p1 string, s1 int, p2 string, s2 int) {
		finished <- finishResult{roomID: roomID, p1: p1, p2: p2, score1: s1, score2: s2}
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		match.Run(ctx, slogx.DiscardLogger(), lis, cfg)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return lis.Addr().String(), finished
}

func testConfig() match.Config {
	return match.Config{
		RoomID:  7,
		Players: [2]string{"alice", "bob"},
		Token:   testToken,
		Seed:    99,
		Gravity: 30 * time.Millisecond,
	}
}

func dialMatch(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn net.Conn, body string) {
	t.Helper()
	require.NoError(t, wire.WriteFrame(conn, body))
}

func readFrame(t *testing.T, conn net.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	body, err := wire.ReadFrame(conn)
	require.NoError(t, err)
	return body
}

// readUntil skips frames until one starts with the given verb.
func readUntil(t *testing.T, conn net.Conn, verb string) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		body := readFrame(t, conn)
		if strings.HasPrefix(body, verb) {
			return body
		}
	}
	t.Fatalf("no %s frame before deadline", verb)
	return ""
}

func TestHandshakeRoles(t *testing.T) {
	addr, _ := startMatch(t, testConfig())

	p1 := dialMatch(t, addr)
	sendFrame(t, p1, "HELLO username=alice token="+testToken)
	assert.Equal(t, "WELCOME role=P1 seed=99 gravity=30 bag=7", readFrame(t, p1))

	spec := dialMatch(t, addr)
	sendFrame(t, spec, "HELLO username=carol token="+testToken+" role=SPEC")
	assert.Equal(t, "WELCOME role=SPEC seed=99 gravity=30 bag=7", readFrame(t, spec))

	// A valid token with an unexpected name still gets a seat in the
	// stands, role flag or not.
	stray := dialMatch(t, addr)
	sendFrame(t, stray, "HELLO username=mallory token="+testToken)
	assert.Equal(t, "WELCOME role=SPEC seed=99 gravity=30 bag=7", readFrame(t, stray))
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	addr, _ := startMatch(t, testConfig())

	conn := dialMatch(t, addr)
	sendFrame(t, conn, "HELLO username=alice token=wrong")
	assert.Equal(t, "ERR invalid_player_or_token", readFrame(t, conn))
	// The runtime closes the socket after rejecting.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err := wire.ReadFrame(conn)
	assert.Error(t, err)
}

func TestHandshakeRejectsTakenSlot(t *testing.T) {
	addr, _ := startMatch(t, testConfig())

	p1 := dialMatch(t, addr)
	sendFrame(t, p1, "HELLO username=alice token="+testToken)
	require.Equal(t, "WELCOME role=P1 seed=99 gravity=30 bag=7", readFrame(t, p1))

	// Same name again: the player slot is taken, so the newcomer spectates.
	dup := dialMatch(t, addr)
	sendFrame(t, dup, "HELLO username=alice token="+testToken)
	assert.Equal(t, "WELCOME role=SPEC seed=99 gravity=30 bag=7", readFrame(t, dup))
}

func TestMatchStreamsSnapshots(t *testing.T) {
	addr, _ := startMatch(t, testConfig())

	p1 := dialMatch(t, addr)
	sendFrame(t, p1, "HELLO username=alice token="+testToken)
	require.Equal(t, "WELCOME role=P1 seed=99 gravity=30 bag=7", readFrame(t, p1))

	p2 := dialMatch(t, addr)
	sendFrame(t, p2, "HELLO username=bob token="+testToken)
	require.Equal(t, "WELCOME role=P2 seed=99 gravity=30 bag=7", readFrame(t, p2))

	snap := readUntil(t, p1, "SNAPSHOT")
	ok, kv := wire.ParseReply("OK " + strings.TrimPrefix(snap, "SNAPSHOT "))
	require.True(t, ok)
	assert.Contains(t, []string{"alice", "bob"}, kv["user"])
	assert.Equal(t, "0", kv["gameover"])
	require.Len(t, kv["board"], tetris.Rows*tetris.Cols)
	for _, c := range kv["board"] {
		assert.True(t, '0' <= c && c <= '7')
	}

	// Spectators joining mid-match receive the same stream.
	spec := dialMatch(t, addr)
	sendFrame(t, spec, "HELLO username=carol token="+testToken+" role=SPEC")
	require.Equal(t, "WELCOME role=SPEC seed=99 gravity=30 bag=7", readFrame(t, spec))
	specSnap := readUntil(t, spec, "SNAPSHOT")
	assert.True(t, strings.HasPrefix(specSnap, "SNAPSHOT user="))
}

func TestDisconnectEndsMatch(t *testing.T) {
	cfg := testConfig()
	reg := match.NewRegistry()
	cfg.Matches = reg
	addr, finished := startMatch(t, cfg)

	_, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	var port int
	_, err = fmt.Sscanf(portStr, "%d", &port)
	require.NoError(t, err)
	reg.Put(cfg.RoomID, match.Entry{Port: port, Token: cfg.Token})

	p1 := dialMatch(t, addr)
	sendFrame(t, p1, "HELLO username=alice token="+testToken)
	require.Equal(t, "WELCOME role=P1 seed=99 gravity=30 bag=7", readFrame(t, p1))
	p2 := dialMatch(t, addr)
	sendFrame(t, p2, "HELLO username=bob token="+testToken)
	require.Equal(t, "WELCOME role=P2 seed=99 gravity=30 bag=7", readFrame(t, p2))

	readUntil(t, p2, "SNAPSHOT")
	require.NoError(t, p1.Close())

	over := readUntil(t, p2, "GAME_OVER")
	assert.True(t, strings.HasPrefix(over, "GAME_OVER p1_score="))

	select {
	case res := <-finished:
		assert.Equal(t, 7, res.roomID)
		assert.Equal(t, "alice", res.p1)
		assert.Equal(t, "bob", res.p2)
	case <-time.After(5 * time.Second):
		t.Fatal("finish callback never fired")
	}

	assert.Eventually(t, func() bool {
		_, live := reg.Lookup(cfg.RoomID)
		return !live
	}, 5*time.Second, 10*time.Millisecond, "registry entry must be removed")
}

func TestIdenticalSeedsProduceIdenticalStreams(t *testing.T) {
	collect := func() []string {
		cfg := testConfig()
		addr, _ := startMatch(t, cfg)
		p1 := dialMatch(t, addr)
		sendFrame(t, p1, "HELLO username=alice token="+testToken)
		require.Equal(t, "WELCOME role=P1 seed=99 gravity=30 bag=7", readFrame(t, p1))
		p2 := dialMatch(t, addr)
		sendFrame(t, p2, "HELLO username=bob token="+testToken)
		require.Equal(t, "WELCOME role=P2 seed=99 gravity=30 bag=7", readFrame(t, p2))

		var snaps []string
		for len(snaps) < 6 {
			body := readUntil(t, p1, "SNAPSHOT")
			snaps = append(snaps, body)
		}
		return snaps
	}
	assert.Equal(t, collect(), collect(), "same seed, no inputs: identical snapshot streams")
}

func TestInputIgnoredBeforeStart(t *testing.T) {
	addr, _ := startMatch(t, testConfig())

	p1 := dialMatch(t, addr)
	sendFrame(t, p1, "HELLO username=alice token="+testToken)
	require.Equal(t, "WELCOME role=P1 seed=99 gravity=30 bag=7", readFrame(t, p1))
	// No second player yet: inputs must be dropped without effect.
	sendFrame(t, p1, "INPUT LEFT")
	sendFrame(t, p1, "INPUT DROP")

	p2 := dialMatch(t, addr)
	sendFrame(t, p2, "HELLO username=bob token="+testToken)
	require.Equal(t, "WELCOME role=P2 seed=99 gravity=30 bag=7", readFrame(t, p2))

	snap := readUntil(t, p1, "SNAPSHOT user=alice")
	_, kv := wire.ParseReply("OK " + strings.TrimPrefix(snap, "SNAPSHOT "))
	assert.Equal(t, "0", kv["score"], "pre-start inputs must not score")
}
