package registry_test

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quadra-games/quadra/internal/regclient"
	"github.com/quadra-games/quadra/internal/registry"
	"github.com/quadra-games/quadra/internal/util/slogx"
)

// startServer runs a registry server on a loopback port and returns its
// address; cleanup stops it.
func startServer(t *testing.T) string {
	t.Helper()
	log := slogx.DiscardLogger()
	store := registry.NewStore(log)
	srv := registry.NewServer(log, store)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = srv.Serve(ctx, lis)
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return lis.Addr().String()
}

func TestServerRequestReply(t *testing.T) {
	addr := startServer(t)

	c, err := regclient.Dial(slogx.DiscardLogger(), addr)
	require.NoError(t, err)
	defer c.Close()

	reply, err := c.Do("User create username=alice pass=h1")
	require.NoError(t, err)
	assert.Equal(t, "OK user=alice", reply)

	reply, err = c.Do("User read username=alice")
	require.NoError(t, err)
	assert.Equal(t, "OK username=alice pass=h1 online=0", reply)

	reply, err = c.Do("Nonsense")
	require.NoError(t, err)
	assert.Equal(t, "ERR unknown_command", reply)
}

func TestServerSerializesClients(t *testing.T) {
	addr := startServer(t)

	// Concurrent CAS storms from several pipes: exactly one winner per
	// round trip regardless of interleaving.
	c1, err := regclient.Dial(slogx.DiscardLogger(), addr)
	require.NoError(t, err)
	defer c1.Close()
	c2, err := regclient.Dial(slogx.DiscardLogger(), addr)
	require.NoError(t, err)
	defer c2.Close()

	_, err = c1.Do("User create username=alice pass=h")
	require.NoError(t, err)

	results := make(chan string, 2)
	var wg sync.WaitGroup
	for _, c := range []*regclient.Client{c1, c2} {
		wg.Add(1)
		go func(c *regclient.Client) {
			defer wg.Done()
			reply, err := c.Do("User compareSetOnline username=alice expect=0 value=1")
			require.NoError(t, err)
			results <- reply
		}(c)
	}
	wg.Wait()
	close(results)

	var got []string
	for r := range results {
		got = append(got, r)
	}
	assert.ElementsMatch(t, []string{"OK", "ERR mismatch"}, got)
}

func TestServerOneShotRequest(t *testing.T) {
	addr := startServer(t)
	reply, err := regclient.Request(slogx.DiscardLogger(), addr, "User listOnline")
	require.NoError(t, err)
	assert.Equal(t, "OK", reply)
}
