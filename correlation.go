package jsonservice

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// NewRequestID returns a fresh correlation token: the hex blake3 digest of a
// random UUID and the current time in nanoseconds.
func NewRequestID() string {
	id := uuid.New()

	var now [8]byte
	binary.BigEndian.PutUint64(now[:], uint64(time.Now().UnixNano()))

	h := blake3.New()
	_, _ = h.Write(id[:])
	_, _ = h.Write(now[:])
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// verifyRequestID checks the token echoed by the backend. An empty echo is
// accepted since not every backend returns the header.
func verifyRequestID(sent, received string) error {
	if received == "" || received == sent {
		return nil
	}
	err := newError(KindRequestMismatch,
		fmt.Sprintf("request id mismatch: sent %s, received %s", sent, received), nil)
	err.RequestID = sent
	return err
}
