// Package capability issues and verifies signed, expiring URLs that grant
// read access to a single stored file.
//
// A token has the wire form "{expiresAtMillis}.{hexSignature}" where the
// signature is HMAC-SHA256(secret, resourceID + "." + expiresAtMillis).
// Verification needs only the secret and a clock; nothing is persisted.
package capability

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultTTL is used when Issue is called with a non-positive ttl.
const DefaultTTL = 900 * time.Second

// ErrSecretUnset is returned by Issue when the broker has no signing secret.
var ErrSecretUnset = errors.New("capability: signing secret not configured")

// Capability is a signed, time-limited grant for one resource.
type Capability struct {
	ResourceID string
	ExpiresAt  time.Time
	Signature  []byte
}

// Token returns the wire form "{expiresAtMillis}.{hexSignature}".
func (c Capability) Token() string {
	return strconv.FormatInt(c.ExpiresAt.UnixMilli(), 10) + "." + hex.EncodeToString(c.Signature)
}

// Broker signs and verifies capabilities.
type Broker struct {
	secret  []byte
	baseURL string
	ttl     time.Duration
	now     func() time.Time
}

// Option configures a Broker.
type Option func(*Broker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) {
		b.now = now
	}
}

// WithTTL sets the lifetime used by IssueURLs.
func WithTTL(ttl time.Duration) Option {
	return func(b *Broker) {
		if ttl > 0 {
			b.ttl = ttl
		}
	}
}

// NewBroker returns a broker signing with secret. baseURL is the public
// origin prefixed to retrieval links.
func NewBroker(secret, baseURL string, opts ...Option) *Broker {
	b := &Broker{
		secret:  []byte(secret),
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     DefaultTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// TTL reports the lifetime applied by IssueURLs.
func (b *Broker) TTL() time.Duration {
	return b.ttl
}

// Issue signs resourceID with an expiry of now + ttl.
func (b *Broker) Issue(resourceID string, ttl time.Duration) (Capability, error) {
	if len(b.secret) == 0 {
		return Capability{}, ErrSecretUnset
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	expiresAt := time.UnixMilli(b.now().Add(ttl).UnixMilli())
	return Capability{
		ResourceID: resourceID,
		ExpiresAt:  expiresAt,
		Signature:  b.sign(resourceID, expiresAt.UnixMilli()),
	}, nil
}

// Verify reports whether token grants access to resourceID right now.
// Every failure, including a malformed token, yields false.
func (b *Broker) Verify(resourceID, token string) bool {
	if len(b.secret) == 0 || resourceID == "" {
		return false
	}

	expPart, sigPart, ok := strings.Cut(token, ".")
	if !ok || expPart == "" || sigPart == "" {
		return false
	}

	expiresAt, err := strconv.ParseInt(expPart, 10, 64)
	if err != nil {
		return false
	}
	if b.now().UnixMilli() > expiresAt {
		return false
	}

	got, err := hex.DecodeString(sigPart)
	if err != nil || len(got) != sha256.Size {
		return false
	}

	return hmac.Equal(got, b.sign(resourceID, expiresAt))
}

// URL builds the retrieval link for c.
func (b *Broker) URL(c Capability) string {
	return b.baseURL + "/drive-file/" + url.PathEscape(c.ResourceID) + "?t=" + c.Token()
}

// AccessFilter reports whether a resource may be included in an issued batch.
type AccessFilter func(resourceID string) bool

// IssueURLs signs every id that passes allow (nil allows all) using the
// broker TTL. Ids rejected by allow are omitted from the result.
func (b *Broker) IssueURLs(ids []string, allow AccessFilter) (map[string]string, error) {
	urls := make(map[string]string, len(ids))
	for _, id := range ids {
		if allow != nil && !allow(id) {
			continue
		}
		c, err := b.Issue(id, b.ttl)
		if err != nil {
			return nil, err
		}
		urls[id] = b.URL(c)
	}
	return urls, nil
}

func (b *Broker) sign(resourceID string, expiresAtMillis int64) []byte {
	mac := hmac.New(sha256.New, b.secret)
	mac.Write([]byte(resourceID + "." + strconv.FormatInt(expiresAtMillis, 10)))
	return mac.Sum(nil)
}
