// redis.go -- Redis-backed gorilla/sessions store.
//
// The cookie carries a signed random session id; values live in Redis under
// session:<sha256(id)> with a TTL matching the cookie's MaxAge.
// A leaked Redis dump therefore doesn't hand out usable cookies.
package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/redis/go-redis/v9"
)

// DefaultSessionTTL is used when a session is saved with MaxAge 0 (browser-session cookie).
// Redis needs a TTL or the key would never expire.
const DefaultSessionTTL = 24 * time.Hour

// NewRedisClient parses redisURL, connects, and pings.
// Call once at startup; the returned client is safe for concurrent use.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// RedisSessionStore implements sessions.Store on top of Redis.
type RedisSessionStore struct {
	rdb        *redis.Client
	Codecs     []securecookie.Codec
	Options    *sessions.Options // default options for new sessions
	serializer securecookie.GobEncoder
}

// NewRedisSessionStore returns a store signing session-id cookies with keyPairs
// (same semantics as sessions.NewCookieStore).
func NewRedisSessionStore(rdb *redis.Client, keyPairs ...[]byte) *RedisSessionStore {
	s := &RedisSessionStore{
		rdb:    rdb,
		Codecs: securecookie.CodecsFromPairs(keyPairs...),
		Options: &sessions.Options{
			Path:     "/",
			MaxAge:   int(DefaultSessionTTL.Seconds()),
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		},
	}
	s.MaxAge(s.Options.MaxAge)
	return s
}

// MaxAge sets the default cookie MaxAge and the codecs' timestamp window.
func (s *RedisSessionStore) MaxAge(age int) {
	s.Options.MaxAge = age
	for _, c := range s.Codecs {
		if sc, ok := c.(*securecookie.SecureCookie); ok {
			sc.MaxAge(age)
		}
	}
}

// Get returns the named session, cached per request by the sessions registry.
func (s *RedisSessionStore) Get(r *http.Request, name string) (*sessions.Session, error) {
	return sessions.GetRegistry(r).Get(s, name)
}

// New loads the session referenced by the request cookie, or returns a fresh one.
// A bad signature is reported as an error alongside a usable fresh session.
// A cookie pointing at an expired key is not an error.
func (s *RedisSessionStore) New(r *http.Request, name string) (*sessions.Session, error) {
	session := sessions.NewSession(s, name)
	opts := *s.Options
	session.Options = &opts
	session.IsNew = true

	c, err := r.Cookie(name)
	if err != nil {
		return session, nil
	}
	if err := securecookie.DecodeMulti(name, c.Value, &session.ID, s.Codecs...); err != nil {
		session.ID = ""
		return session, fmt.Errorf("decoding session cookie: %w", err)
	}

	if err := s.load(r.Context(), session); err != nil {
		session.ID = ""
		if errors.Is(err, ErrSessionNotFound) {
			return session, nil
		}
		return session, err
	}
	session.IsNew = false
	return session, nil
}

// Save writes values to Redis and sets the signed id cookie.
// MaxAge < 0 deletes the key and expires the cookie.
func (s *RedisSessionStore) Save(r *http.Request, w http.ResponseWriter, session *sessions.Session) error {
	ctx := r.Context()

	if session.Options.MaxAge < 0 {
		if session.ID != "" {
			if err := s.rdb.Del(ctx, sessionKey(session.ID)).Err(); err != nil {
				return fmt.Errorf("deleting session: %w", err)
			}
		}
		http.SetCookie(w, sessions.NewCookie(session.Name(), "", session.Options))
		return nil
	}

	if session.ID == "" {
		id, err := newSessionID()
		if err != nil {
			return err
		}
		session.ID = id
	}

	data, err := s.serializer.Serialize(session.Values)
	if err != nil {
		return fmt.Errorf("serializing session: %w", err)
	}

	ttl := time.Duration(session.Options.MaxAge) * time.Second
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if err := s.rdb.Set(ctx, sessionKey(session.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("caching session: %w", err)
	}

	encoded, err := securecookie.EncodeMulti(session.Name(), session.ID, s.Codecs...)
	if err != nil {
		return fmt.Errorf("encoding session cookie: %w", err)
	}
	http.SetCookie(w, sessions.NewCookie(session.Name(), encoded, session.Options))
	return nil
}

// Discard deletes the stored values for session id. Used when the id is rotated at login.
func (s *RedisSessionStore) Discard(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("discarding session: %w", err)
	}
	return nil
}

// CheckHealth pings Redis.
func (s *RedisSessionStore) CheckHealth(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// load fills session.Values from Redis. Returns ErrSessionNotFound on a miss.
func (s *RedisSessionStore) load(ctx context.Context, session *sessions.Session) error {
	raw, err := s.rdb.Get(ctx, sessionKey(session.ID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("fetching session: %w", err)
	}
	if err := s.serializer.Deserialize(raw, &session.Values); err != nil {
		return fmt.Errorf("parsing session: %w", err)
	}
	return nil
}

// sessionKey hashes the raw id so Redis never stores what the cookie carries.
func sessionKey(id string) string {
	sum := sha256.Sum256([]byte(id))
	return "session:" + base64.RawURLEncoding.EncodeToString(sum[:])
}

// newSessionID returns a 256-bit random id, base64url encoded.
func newSessionID() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}
