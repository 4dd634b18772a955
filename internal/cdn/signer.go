package cdn

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Signer builds time-bounded download URLs routed through the CDN domain.
// Construction is pure: no network I/O, just the storage key, the domain,
// and an HMAC over both plus the expiry.
type Signer struct {
	domain string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(domain, secret string, ttl time.Duration) *Signer {
	return &Signer{
		domain: strings.TrimRight(domain, "/"),
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue returns the signed CDN URL for a storage key. The URL is valid until
// the embedded expiry; the CDN edge recomputes the same HMAC to verify.
func (s *Signer) Issue(storageKey string) string {
	storageKey = strings.TrimLeft(storageKey, "/")
	expires := s.now().Add(s.ttl).Unix()
	return fmt.Sprintf("https://%s/%s?expires=%d&signature=%s",
		s.domain, storageKey, expires, s.sign(storageKey, expires))
}

// Verify checks a previously issued URL's key, expiry and signature. Expired
// or tampered URLs fail.
func (s *Signer) Verify(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	expires, err := strconv.ParseInt(u.Query().Get("expires"), 10, 64)
	if err != nil || s.now().Unix() > expires {
		return false
	}
	key := strings.TrimLeft(u.Path, "/")
	expected := s.sign(key, expires)
	return hmac.Equal([]byte(expected), []byte(u.Query().Get("signature")))
}

func (s *Signer) sign(storageKey string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s\n%d", storageKey, expires)
	return hex.EncodeToString(mac.Sum(nil))
}
