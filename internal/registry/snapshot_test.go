package registry_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quadra-games/quadra/internal/registry"
	"github.com/quadra-games/quadra/internal/util/slogx"
)

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.txt")

	store := registry.NewStore(slogx.DiscardLogger())
	store.Apply("User create username=alice pass=h1")
	store.Apply("User create username=bob pass=h2")
	store.Apply("User setOnline username=alice online=1")
	store.Apply("Room create name=Den host=alice visibility=private")
	store.Apply("Room invite roomId=1 user=bob host=alice")
	store.Apply("Room join roomId=1 user=bob")
	store.Apply("Room setStatus roomId=1 status=playing")
	store.Apply("Room setToken roomId=1 token=tok42")
	store.Apply("Room spectate roomId=1 user=bobwatcher")
	store.Apply("User create username=bobwatcher pass=h3")
	store.Apply("GameLog create roomId=1 user1=alice user2=bob score1=300 score2=100")
	require.NoError(t, store.Save(path))

	loaded := registry.NewStore(slogx.DiscardLogger())
	require.NoError(t, loaded.Load(path))

	// No session survives a restart: every user comes back offline.
	assert.Equal(t, "OK username=alice pass=h1 online=0", loaded.Apply("User read username=alice"))
	assert.Equal(t, "OK username=bob pass=h2 online=0", loaded.Apply("User read username=bob"))

	assert.Equal(t, "OK id=1 name=Den host=alice status=playing p1=alice p2=bob token=tok42",
		loaded.Apply("Room get roomId=1"))
	assert.Equal(t, "OK", loaded.Apply("Room unspectate roomId=1 user=bobwatcher"))

	assert.Equal(t, "OK id=1 room=1 p1=alice s1=300 p2=bob s2=100;", loaded.Apply("GameLog list"))

	// Id counters resume past the loaded maxima.
	assert.Equal(t, "OK roomId=2", loaded.Apply("Room create name=Next host=carol visibility=public"))
	assert.Equal(t, "OK gameId=2", loaded.Apply("GameLog create roomId=2 user1=a user2=b score1=1 score2=2"))
}

func TestSnapshotQuoting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.txt")

	store := registry.NewStore(slogx.DiscardLogger())
	// The encoded credential hash may hold '$' and other punctuation;
	// quoting must carry it through untouched.
	store.Apply(`User create username=alice pass=argon2id$19$16384$3$1$c2FsdA$aGFzaA`)
	require.NoError(t, store.Save(path))

	loaded := registry.NewStore(slogx.DiscardLogger())
	require.NoError(t, loaded.Load(path))
	assert.Equal(t, `OK username=alice pass=argon2id$19$16384$3$1$c2FsdA$aGFzaA online=0`,
		loaded.Apply("User read username=alice"))
}

func TestSnapshotLoadMissingFile(t *testing.T) {
	store := registry.NewStore(slogx.DiscardLogger())
	require.NoError(t, store.Load(filepath.Join(t.TempDir(), "absent.txt")))
	assert.Equal(t, "OK roomId=1", store.Apply("Room create name=Fresh host=alice visibility=public"))
}

func TestSnapshotSkipsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.txt")
	content := `# comment line

USER "alice" "h1" 1
USER "broken
ROOM not-a-number "x" "y" "public" "idle" "x" "" "" 0 0
ROOM 4 "Den" "alice" "public" "idle" "alice" "" "" 0 0
LOG 2 4 "alice" "bob" 10 20
LOG bogus
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	store := registry.NewStore(slogx.DiscardLogger())
	require.NoError(t, store.Load(path))
	assert.Equal(t, "OK username=alice pass=h1 online=0", store.Apply("User read username=alice"))
	assert.Equal(t, "OK id=4 name=Den host=alice status=idle p1=alice p2= token=",
		store.Apply("Room get roomId=4"))
	// Counters derive from the surviving records.
	assert.Equal(t, "OK roomId=5", store.Apply("Room create name=N host=h visibility=public"))
	assert.Equal(t, "OK gameId=3", store.Apply("GameLog create roomId=4 user1=a user2=b score1=0 score2=0"))
}

func TestSnapshotSaveIsAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.txt")
	store := registry.NewStore(slogx.DiscardLogger())
	store.Apply("User create username=alice pass=h1")
	require.NoError(t, store.Save(path))
	require.NoError(t, store.Save(path))
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must not be left behind")
}
