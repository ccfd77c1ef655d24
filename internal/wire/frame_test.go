package wire_test

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quadra-games/quadra/internal/wire"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, wire.WriteFrame(&buf, "Room get roomId=7"))
	require.NoError(t, wire.WriteFrame(&buf, "OK id=7"))

	body, err := wire.ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, "Room get roomId=7", body)

	body, err = wire.ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, "OK id=7", body)
}

func TestWriteFrameRejectsEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.ErrorIs(t, wire.WriteFrame(&buf, ""), wire.ErrEmptyFrame)
	assert.Zero(t, buf.Len())
}

func TestWriteFrameRejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	require.ErrorIs(t, wire.WriteFrame(&buf, strings.Repeat("x", wire.MaxFrameLen+1)), wire.ErrFrameTooLarge)
}

func TestWriteFrameMaxLen(t *testing.T) {
	var buf bytes.Buffer
	body := strings.Repeat("x", wire.MaxFrameLen)
	require.NoError(t, wire.WriteFrame(&buf, body))
	got, err := wire.ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestReadFrameRejectsZeroLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0})
	_, err := wire.ReadFrame(&buf)
	require.ErrorIs(t, err, wire.ErrFrameTooLarge)
}

func TestReadFrameRejectsOversizeLength(t *testing.T) {
	var buf bytes.Buffer
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], wire.MaxFrameLen+1)
	buf.Write(hdr[:])
	_, err := wire.ReadFrame(&buf)
	require.ErrorIs(t, err, wire.ErrFrameTooLarge)
}

func TestReadFrameShortBody(t *testing.T) {
	var buf bytes.Buffer
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], 10)
	buf.Write(hdr[:])
	buf.WriteString("short")
	_, err := wire.ReadFrame(&buf)
	require.Error(t, err)
}

func TestCommandTolerantToWhitespace(t *testing.T) {
	verb, args := wire.Command("  LOGIN   alice  secret  ")
	assert.Equal(t, "LOGIN", verb)
	assert.Equal(t, []string{"alice", "secret"}, args)

	verb, args = wire.Command("")
	assert.Empty(t, verb)
	assert.Empty(t, args)
}

func TestParseKV(t *testing.T) {
	kv := wire.ParseKV([]string{"roomId=3", "user=alice", "plain", "=weird"})
	assert.Equal(t, "3", kv["roomId"])
	assert.Equal(t, "alice", kv["user"])
	assert.Len(t, kv, 2)
}

func TestParseReply(t *testing.T) {
	ok, kv := wire.ParseReply("OK port=10001 token=abc")
	assert.True(t, ok)
	assert.Equal(t, "10001", kv["port"])
	assert.Equal(t, "abc", kv["token"])

	ok, _ = wire.ParseReply("ERR not_found")
	assert.False(t, ok)
}

func TestIsOK(t *testing.T) {
	assert.True(t, wire.IsOK("OK"))
	assert.True(t, wire.IsOK("OK closed"))
	assert.False(t, wire.IsOK("OKAY"))
	assert.False(t, wire.IsOK("ERR db"))
}
