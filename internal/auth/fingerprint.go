package auth

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// Fingerprint identifies a client device from request metadata. The hash is
// stable for a given set of inputs; the parsed fields are informational.
type Fingerprint struct {
	Hash       string
	Browser    string
	OS         string
	DeviceType string
}

// ClientHints are the raw request headers the fingerprint is derived from.
type ClientHints struct {
	UserAgent      string
	AcceptLanguage string
	AcceptEncoding string
}

// ExtractFingerprint derives a device fingerprint from client metadata.
// Pure and deterministic: the same hints always produce the same hash.
func ExtractFingerprint(hints ClientHints) Fingerprint {
	browser := parseBrowser(hints.UserAgent)
	os := parseOS(hints.UserAgent)
	deviceType := parseDeviceType(hints.UserAgent)

	// Canonical ordering: raw headers first, parsed fields after, pipe-joined.
	canonical := strings.Join([]string{
		hints.UserAgent,
		hints.AcceptLanguage,
		hints.AcceptEncoding,
		browser,
		os,
		deviceType,
	}, "|")

	hash := sha256.Sum256([]byte(canonical))

	return Fingerprint{
		Hash:       fmt.Sprintf("%x", hash)[:32],
		Browser:    browser,
		OS:         os,
		DeviceType: deviceType,
	}
}

func parseBrowser(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "edg/"):
		return "edge"
	case strings.Contains(ua, "opr/") || strings.Contains(ua, "opera"):
		return "opera"
	case strings.Contains(ua, "chrome/"):
		return "chrome"
	case strings.Contains(ua, "firefox/"):
		return "firefox"
	case strings.Contains(ua, "safari/"):
		return "safari"
	case strings.Contains(ua, "curl/"):
		return "curl"
	default:
		return "unknown"
	}
}

func parseOS(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "windows"):
		return "windows"
	case strings.Contains(ua, "android"):
		return "android"
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"), strings.Contains(ua, "ios"):
		return "ios"
	case strings.Contains(ua, "mac os"), strings.Contains(ua, "macintosh"):
		return "macos"
	case strings.Contains(ua, "linux"):
		return "linux"
	default:
		return "unknown"
	}
}

func parseDeviceType(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "ipad"), strings.Contains(ua, "tablet"):
		return "tablet"
	case strings.Contains(ua, "mobile"), strings.Contains(ua, "iphone"), strings.Contains(ua, "android"):
		return "mobile"
	default:
		return "desktop"
	}
}
