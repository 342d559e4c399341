package session

import (
	"crypto/sha256"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/jjeffery/errors"
	"github.com/jjeffery/surrealsessions/storage"
	"golang.org/x/crypto/hkdf"
)

// newCodecs returns the codecs used for encoding and decoding session cookies.
// Cookies are encoded with keys derived from secret, and decoded with keys
// derived from secret or any of the old secrets.
func newCodecs(maxAge time.Duration, secret []byte, oldSecrets ...[]byte) (encode, decode []securecookie.Codec) {
	hashKey, encryptKey := newKeyPair(secret)
	encodeKeyPairs := [][]byte{hashKey, encryptKey}
	decodeKeyPairs := [][]byte{hashKey, encryptKey}
	for _, old := range oldSecrets {
		k1, k2 := newKeyPair(old)
		decodeKeyPairs = append(decodeKeyPairs, k1, k2)
	}
	encode = securecookie.CodecsFromPairs(encodeKeyPairs...)
	decode = securecookie.CodecsFromPairs(decodeKeyPairs...)
	for _, codecs := range [][]securecookie.Codec{encode, decode} {
		for _, codec := range codecs {
			if sc, ok := codec.(*securecookie.SecureCookie); ok {
				sc.MaxAge(int(maxAge / time.Second))
			}
		}
	}
	return encode, decode
}

// newKeyPair takes a secret and prepares two keys using
// the HKDF key derivation function.
func newKeyPair(secret []byte) ([]byte, []byte) {
	hash := sha256.New
	kdf := hkdf.New(hash, secret, nil, nil)

	var hashKey [32]byte
	var encryptKey [32]byte
	kdf.Read(hashKey[:])
	kdf.Read(encryptKey[:])

	return hashKey[:], encryptKey[:]
}

// CookieName returns the name of the session cookie.
func (m *Manager[S, U]) CookieName() string {
	return m.cookieName
}

// SessionCookie returns a cookie holding the session id. The cookie expires
// at the same time as the session.
func (m *Manager[S, U]) SessionCookie(session *Session[S]) (*http.Cookie, error) {
	value := session.ID
	if len(m.encode) > 0 {
		var err error
		value, err = securecookie.EncodeMulti(m.cookieName, session.ID, m.encode...)
		if err != nil {
			return nil, errors.Wrap(err, "cannot encode session cookie").With("session", session.ID)
		}
	}
	options := m.cookie
	options.MaxAge = int(session.ExpiresAt.Sub(m.timeNow()) / time.Second)
	if options.MaxAge <= 0 {
		options.MaxAge = -1
	}
	return sessions.NewCookie(m.cookieName, value, &options), nil
}

// BlankSessionCookie returns a cookie that removes the session cookie from
// the client.
func (m *Manager[S, U]) BlankSessionCookie() *http.Cookie {
	options := m.cookie
	options.MaxAge = -1
	return sessions.NewCookie(m.cookieName, "", &options)
}

// ReadSessionCookie returns the session id held in the request's session
// cookie. If there is no session cookie it returns a blank id and no error.
func (m *Manager[S, U]) ReadSessionCookie(r *http.Request) (string, error) {
	c, err := r.Cookie(m.cookieName)
	if err == http.ErrNoCookie {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "cannot obtain cookie")
	}
	if c.Value == "" {
		return "", nil
	}
	sessionID := c.Value
	if len(m.decode) > 0 {
		sessionID = ""
		if err := securecookie.DecodeMulti(m.cookieName, c.Value, &sessionID, m.decode...); err != nil {
			return "", errors.Wrap(err, "cannot decode cookie")
		}
	}
	if len(sessionID) > storage.MaxIDLength {
		return "", errors.New("session id too long")
	}
	return sessionID, nil
}
