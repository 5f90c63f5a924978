// Package wire frames the commit notification carried on the broadcast
// channel. The envelope is magic + version so foreign traffic on a shared
// topic is rejected instead of misparsed.
package wire

import (
	"bytes"
	"errors"

	"github.com/vmihailenco/msgpack/v5"
)

const version byte = 1

var (
	ErrCorrupt = errors.New("wire: corrupt notice")
	magic4     = [...]byte{'W', 'B', 'N', 'T'}
)

// Notice announces one committed key. Origin is the committing process's
// identity; receivers drop their own echoes.
type Notice struct {
	Origin string `msgpack:"o"`
	Key    string `msgpack:"k"`
}

// Envelope: magic(4) | ver(1) | msgpack(Notice)
func EncodeNotice(n Notice) ([]byte, error) {
	body, err := msgpack.Marshal(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 5+len(body))
	out = append(out, magic4[:]...)
	out = append(out, version)
	out = append(out, body...)
	return out, nil
}

func DecodeNotice(b []byte) (Notice, error) {
	if len(b) < 5 || !bytes.Equal(b[:4], magic4[:]) {
		return Notice{}, ErrCorrupt
	}
	if b[4] != version {
		return Notice{}, ErrCorrupt
	}
	var n Notice
	if err := msgpack.Unmarshal(b[5:], &n); err != nil {
		return Notice{}, ErrCorrupt
	}
	// the key may legitimately be empty; the origin never is
	if n.Origin == "" {
		return Notice{}, ErrCorrupt
	}
	return n, nil
}
