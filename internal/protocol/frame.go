package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxFrameSize bounds one framed message; larger prefixes indicate a corrupt
// or hostile stream.
const MaxFrameSize = 16 << 20

// WriteFrame writes one length-prefixed envelope to w.
func WriteFrame(w io.Writer, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("frame size %d exceeds limit %d", len(data), MaxFrameSize)
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write frame prefix: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed envelope from r. io.EOF at a frame
// boundary is returned verbatim so callers can distinguish a clean close.
func ReadFrame(r io.Reader) (Envelope, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if err == io.EOF {
			return Envelope{}, io.EOF
		}
		return Envelope{}, fmt.Errorf("read frame prefix: %w", err)
	}

	size := binary.BigEndian.Uint32(prefix[:])
	if size > MaxFrameSize {
		return Envelope{}, fmt.Errorf("frame size %d exceeds limit %d", size, MaxFrameSize)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return Envelope{}, fmt.Errorf("read frame body: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return env, nil
}
