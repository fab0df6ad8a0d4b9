package backend

import (
	"crypto/tls"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"time"
)

// browserIdentity is one TLS/header profile the adapter can impersonate.
// weight sets its relative selection probability.
type browserIdentity struct {
	name          string
	weight        float64
	cipherSuites  []uint16
	userAgent     string
	secChUA       string
	secChUAPlat   string
}

// identities is the fixed, weighted set of browser profiles the adapter
// rotates through, ported from stealth.go's Chrome/Firefox cipher-suite
// lists plus realistic header values for each identity.
var identities = []browserIdentity{
	{
		name:   "chrome-windows",
		weight: 0.55,
		cipherSuites: []uint16{
			tls.TLS_AES_128_GCM_SHA256,
			tls.TLS_AES_256_GCM_SHA384,
			tls.TLS_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
		},
		userAgent:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		secChUA:     `"Chromium";v="124", "Not?A_Brand";v="8", "Google Chrome";v="124"`,
		secChUAPlat: `"Windows"`,
	},
	{
		name:   "chrome-macos",
		weight: 0.25,
		cipherSuites: []uint16{
			tls.TLS_AES_128_GCM_SHA256,
			tls.TLS_AES_256_GCM_SHA384,
			tls.TLS_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
		},
		userAgent:   "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		secChUA:     `"Chromium";v="124", "Not?A_Brand";v="8", "Google Chrome";v="124"`,
		secChUAPlat: `"macOS"`,
	},
	{
		name:   "firefox-windows",
		weight: 0.20,
		cipherSuites: []uint16{
			tls.TLS_AES_128_GCM_SHA256,
			tls.TLS_CHACHA20_POLY1305_SHA256,
			tls.TLS_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		},
		userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	},
}

// pickIdentity selects one identity by its weighted distribution.
func pickIdentity(rng *rand.Rand) browserIdentity {
	var total float64
	for _, id := range identities {
		total += id.weight
	}
	r := rng.Float64() * total
	for _, id := range identities {
		r -= id.weight
		if r <= 0 {
			return id
		}
	}
	return identities[0]
}

// identityRotator holds the currently active browser identity and swaps
// it for a new weighted draw every ttl, or immediately on Rotate.
type identityRotator struct {
	ttl time.Duration
	rng *rand.Rand

	mu       sync.Mutex
	current  browserIdentity
	expireAt time.Time
}

func newIdentityRotator(ttl time.Duration) *identityRotator {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	r := &identityRotator{ttl: ttl, rng: rng}
	r.current = pickIdentity(rng)
	r.expireAt = time.Now().Add(ttl)
	return r
}

// Current returns the active identity, rotating first if its session has
// expired.
func (r *identityRotator) Current() browserIdentity {
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Now().After(r.expireAt) {
		r.current = pickIdentity(r.rng)
		r.expireAt = time.Now().Add(r.ttl)
	}
	return r.current
}

// Rotate forces a new identity draw and restarts the session TTL. No
// code path in this package calls it; Client rotates only on TTL expiry.
func (r *identityRotator) Rotate() browserIdentity {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = pickIdentity(r.rng)
	r.expireAt = time.Now().Add(r.ttl)
	return r.current
}

// stealthTransport is an http.RoundTripper that impersonates a browser's
// TLS cipher-suite list and header values (header order is not
// controlled), ported from
// IshaanNene-ScrapeGoat-And-ArchEnemy/internal/fetcher/stealth.go's
// TLSTransport/randomTLSConfig.
type stealthTransport struct {
	rotator *identityRotator

	mu         sync.Mutex
	forName    string
	transport  *http.Transport
}

func newStealthTransport(rotator *identityRotator) *stealthTransport {
	return &stealthTransport{rotator: rotator}
}

// transportFor returns a pooled *http.Transport for identity, rebuilding
// it only when the active identity has changed (i.e. on session
// rotation) so TCP/TLS connections are reused within one session.
func (t *stealthTransport) transportFor(identity browserIdentity) *http.Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.transport != nil && t.forName == identity.name {
		return t.transport
	}
	t.transport = &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			CipherSuites: identity.cipherSuites,
			MinVersion:   tls.VersionTLS12,
			MaxVersion:   tls.VersionTLS13,
			CurvePreferences: []tls.CurveID{
				tls.X25519,
				tls.CurveP256,
				tls.CurveP384,
			},
		},
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 50,
		IdleConnTimeout:     90 * time.Second,
	}
	t.forName = identity.name
	return t.transport
}

func (t *stealthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	identity := t.rotator.Current()
	transport := t.transportFor(identity)

	req.Header.Set("User-Agent", identity.userAgent)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	}
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Sec-Fetch-Dest", "empty")
	req.Header.Set("Sec-Fetch-Mode", "cors")
	req.Header.Set("Sec-Fetch-Site", "same-origin")
	if identity.secChUA != "" {
		req.Header.Set("Sec-Ch-Ua", identity.secChUA)
		req.Header.Set("Sec-Ch-Ua-Mobile", "?0")
		req.Header.Set("Sec-Ch-Ua-Platform", identity.secChUAPlat)
	}

	return transport.RoundTrip(req)
}
