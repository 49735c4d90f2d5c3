package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Frames are u32 little-endian length-prefixed byte blobs. Every transfer on
// a pipe, including the rendezvous grant, is one frame.

// DefaultMaxFrameSize bounds a single frame when no explicit limit is set.
const DefaultMaxFrameSize = 1 << 24

// WriteFrame writes one length-prefixed frame and leaves flushing to the caller.
func WriteFrame(w io.Writer, b []byte) error {
	var lenbuf [4]byte
	binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(b)))
	if _, err := w.Write(lenbuf[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// ReadFrame reads one length-prefixed frame. max <= 0 applies
// DefaultMaxFrameSize.
func ReadFrame(r io.Reader, max int) ([]byte, error) {
	if max <= 0 {
		max = DefaultMaxFrameSize
	}
	var lenbuf [4]byte
	if _, err := io.ReadFull(r, lenbuf[:]); err != nil {
		return nil, err
	}
	n := int(binary.LittleEndian.Uint32(lenbuf[:]))
	if n > max {
		return nil, fmt.Errorf("frame size %d exceeds limit %d", n, max)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
