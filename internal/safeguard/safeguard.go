// Package safeguard adapts the teacher's pkg/horosafe security primitives
// to DoubleAgent's two, deliberately opposite, SSRF postures:
//
//   - the snapshot-pull connector's read-only HTTP client must behave like
//     any normal anti-SSRF guard: refuse private/loopback targets, because
//     it is fetching FROM a real third-party API and a rebind to an
//     internal host would be a genuine vulnerability (spec §5).
//   - the webhook engine's delivery target allowlist is inverted: it must
//     accept private/loopback targets and refuse public ones, because a
//     fake server's webhooks must never reach a real production endpoint
//     (spec §4.5).
//
// Both postures share the same "is this a private or loopback IP"
// primitive; only the accept/reject polarity differs.
package safeguard

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
)

// MinSecretLen is the minimum acceptable length for an HMAC webhook
// secret. 32 bytes = 256 bits of entropy.
const MinSecretLen = 32

// MaxResponseBody caps how much of an HTTP response body callers read
// (1 MiB), so a misbehaving peer can't exhaust memory.
const MaxResponseBody int64 = 1 << 20

var (
	ErrSecretTooShort = fmt.Errorf("safeguard: secret must be at least %d bytes", MinSecretLen)
	ErrUnsafeScheme   = errors.New("safeguard: only http and https schemes are allowed")
	ErrSSRFInternal   = errors.New("safeguard: URL targets a private or loopback address")
	ErrNotAllowlisted = errors.New("safeguard: URL does not target an allowed loopback/private host")
)

// ValidateSecret checks that secret meets MinSecretLen. Exposed for
// callers that want to warn operators configuring a weak webhook secret;
// the spec does not require rejecting short secrets outright.
func ValidateSecret(secret []byte) error {
	if len(secret) < MinSecretLen {
		return ErrSecretTooShort
	}
	return nil
}

// LimitedReadAll reads at most maxBytes from r, erroring if exceeded.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	lr := io.LimitReader(r, maxBytes+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("safeguard: response exceeds %d bytes", maxBytes)
	}
	return data, nil
}

// ValidateReadOnlyTarget enforces the connector HTTP client's SSRF policy:
// only http/https, and — unless allowPrivate is set — no private or
// loopback address (literal or resolved).
func ValidateReadOnlyTarget(rawURL string, allowPrivate bool) error {
	host, err := schemeAndHost(rawURL)
	if err != nil {
		return err
	}
	if allowPrivate {
		return nil
	}
	if hostIsPrivateOrLoopback(host) {
		return ErrSSRFInternal
	}
	return nil
}

// ValidateWebhookTarget enforces the webhook engine's inverted allowlist:
// only http/https, and the host must be loopback/private, or explicitly
// present in extraAllowedHosts (e.g. a container-host alias like
// "host.docker.internal").
func ValidateWebhookTarget(rawURL string, extraAllowedHosts []string) error {
	host, err := schemeAndHost(rawURL)
	if err != nil {
		return err
	}
	if hostIsPrivateOrLoopback(host) {
		return nil
	}
	for _, allowed := range extraAllowedHosts {
		if strings.EqualFold(host, allowed) {
			return nil
		}
	}
	return ErrNotAllowlisted
}

func schemeAndHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("safeguard: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("safeguard: URL has no host")
	}
	return host, nil
}

// hostIsPrivateOrLoopback resolves host (or parses it as a literal IP) and
// reports whether every candidate address is private/loopback. DNS
// failures are treated as "not private" — the caller will hit a network
// error at connection time regardless.
func hostIsPrivateOrLoopback(host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		return isPrivateIP(ip)
	}
	addrs, err := net.LookupHost(host)
	if err != nil || len(addrs) == 0 {
		return false
	}
	for _, a := range addrs {
		ip := net.ParseIP(a)
		if ip == nil || !isPrivateIP(ip) {
			return false
		}
	}
	return true
}

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	for _, cidr := range []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"fc00::/7",
	} {
		_, block, err := net.ParseCIDR(cidr)
		if err == nil && block.Contains(ip) {
			return true
		}
	}
	return false
}

// HashHex returns the first n hex characters of SHA1(value) — the same
// shape of constant the redactor uses for secret-like field hashing.
// No other package in this module calls it.
func HashHex(value string, n int) string {
	sum := sha1.Sum([]byte(value))
	h := hex.EncodeToString(sum[:])
	if n > len(h) {
		n = len(h)
	}
	return h[:n]
}
