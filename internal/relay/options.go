package relay

import (
	"go.uber.org/zap"

	"github.com/die-net/socksrelay/internal/aead"
)

const (
	DefaultBufferSize = 32 * 1024
	DefaultHighWater  = 64 * 1024
	DefaultLowWater   = 32 * 1024
)

// Side names one half of a pair.
type Side uint8

const (
	// Local is the client-facing connection.
	Local Side = iota
	// Peer is the dialed connection.
	Peer
)

// Other returns the partner side.
func (s Side) Other() Side { return 1 - s }

func (s Side) String() string {
	if s == Local {
		return "local"
	}
	return "peer"
}

// Options configure one pair.
type Options struct {
	// Cipher enables AEAD transcoding. Bytes read on CiphertextSide are
	// decrypted before being forwarded; bytes read on the other side are
	// encrypted.
	Cipher         *aead.Cipher
	CiphertextSide Side

	// BufferSize is the size of each read. Zero means DefaultBufferSize.
	BufferSize int

	// A half stops reading while its partner has HighWater or more bytes
	// queued, and resumes once the partner drains to LowWater.
	HighWater int
	LowWater  int

	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.HighWater <= 0 {
		o.HighWater = DefaultHighWater
	}
	if o.LowWater <= 0 || o.LowWater >= o.HighWater {
		o.LowWater = o.HighWater / 2
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

type transform func(dst, p []byte) ([]byte, error)

// transformFor returns how bytes read on side are rewritten before they are
// queued to the partner, or nil to forward them verbatim.
func (o Options) transformFor(side Side) transform {
	if o.Cipher == nil {
		return nil
	}
	if side == o.CiphertextSide {
		return o.Cipher.Decrypt
	}
	return o.Cipher.Encrypt
}
