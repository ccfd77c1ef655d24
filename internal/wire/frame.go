// Package wire implements the length-prefixed framing shared by every TCP
// pipe in the system: a 4-byte big-endian length followed by that many bytes
// of UTF-8 payload, whitespace-tokenized into a verb and key=value arguments.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameLen bounds the payload of a single frame. A declared length of
// zero or above this limit is a protocol error and kills the connection.
const MaxFrameLen = 65536

var (
	ErrFrameTooLarge = errors.New("frame length out of range")
	ErrEmptyFrame    = errors.New("empty frame")
)

func WriteFrame(w io.Writer, body string) error {
	if len(body) == 0 {
		return ErrEmptyFrame
	}
	if len(body) > MaxFrameLen {
		return ErrFrameTooLarge
	}
	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(body)))
	copy(buf[4:], body)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func ReadFrame(r io.Reader) (string, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return "", fmt.Errorf("read frame header: %w", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 || n > MaxFrameLen {
		return "", ErrFrameTooLarge
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("read frame body: %w", err)
	}
	return string(buf), nil
}
