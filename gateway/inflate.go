package gateway

import (
	"bytes"
	"errors"
	"io"

	"github.com/klauspost/compress/flate"
)

// zlibSuffix terminates every message of a zlib-stream connection
// (the trailer of a Z_SYNC_FLUSH).
var zlibSuffix = []byte{0x00, 0x00, 0xff, 0xff}

// windowSize is the deflate history window.
const windowSize = 32 * 1024

var errBadZlibHeader = errors.New("invalid zlib header")

// inflater decodes a zlib-stream: one deflate stream shared by every frame
// of a connection, with each message ending on a sync flush. Frames may
// split a message; output is produced only once the suffix arrives.
//
// The flate reader is reset per message with the last window of output as
// its dictionary, which is equivalent to continuing the stream because a
// sync flush always ends on a block boundary.
type inflater struct {
	pending bytes.Buffer
	history []byte
	reader  io.ReadCloser
	started bool
}

func newInflater() *inflater {
	return &inflater{}
}

// Inflate feeds one frame. It returns the decoded message and true once a
// full message is available.
func (z *inflater) Inflate(frame []byte) ([]byte, bool, error) {
	z.pending.Write(frame)
	if !bytes.HasSuffix(z.pending.Bytes(), zlibSuffix) {
		return nil, false, nil
	}

	data := append([]byte(nil), z.pending.Bytes()...)
	z.pending.Reset()

	if !z.started {
		if len(data) < 2 || data[0]&0x0f != 8 || (uint16(data[0])<<8|uint16(data[1]))%31 != 0 {
			return nil, false, errBadZlibHeader
		}
		data = data[2:]
		z.started = true
	}

	src := bytes.NewReader(data)
	if z.reader == nil {
		z.reader = flate.NewReader(src)
	} else if err := z.reader.(flate.Resetter).Reset(src, z.history); err != nil {
		return nil, false, err
	}

	out, err := io.ReadAll(z.reader)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, false, err
	}

	z.history = append(z.history, out...)
	if len(z.history) > windowSize {
		z.history = append([]byte(nil), z.history[len(z.history)-windowSize:]...)
	}

	return out, true, nil
}
