package session

import (
	"crypto/rand"
	"encoding/base32"
)

// idEntropySize is the number of random bytes in a session id.
const idEntropySize = 25

var (
	// randRead populates a byte array with random data, and can be
	// replaced during testing
	randRead = rand.Read

	idEncoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)
)

// newSessionID returns a random session id: 25 bytes of entropy
// encoded as 40 lower-case base32 characters.
func newSessionID() (string, error) {
	var b [idEntropySize]byte
	if _, err := randRead(b[:]); err != nil {
		return "", err
	}
	return idEncoding.EncodeToString(b[:]), nil
}
