package util

import "strings"

// ParseDeviceType performs a best-effort device classification based on UA fragments.
func ParseDeviceType(ua string) string {
	ua = strings.ToLower(ua)
	switch {
	case ua == "":
		return "unknown"
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet"):
		return "tablet"
	case strings.Contains(ua, "android") && !strings.Contains(ua, "mobile"):
		return "tablet"
	case strings.Contains(ua, "mobile") || strings.Contains(ua, "iphone"):
		return "mobile"
	default:
		return "desktop"
	}
}

// IsBot checks if a UA matches a configurable deny list.
func IsBot(ua string, denyList []string) bool {
	if ua == "" {
		return false
	}
	uaLower := strings.ToLower(ua)
	for _, fragment := range denyList {
		fragment = strings.ToLower(strings.TrimSpace(fragment))
		if fragment == "" {
			continue
		}
		if strings.Contains(uaLower, fragment) {
			return true
		}
	}
	return false
}

// ClientIdentifier picks the key used to rate limit a caller: the first X-Forwarded-For
// hop, then X-Real-IP, then the session id, then "unknown".
func ClientIdentifier(forwardedFor, realIP, sessionID string) string {
	if first, _, _ := strings.Cut(forwardedFor, ","); strings.TrimSpace(first) != "" {
		return strings.TrimSpace(first)
	}
	if ip := strings.TrimSpace(realIP); ip != "" {
		return ip
	}
	if sid := strings.TrimSpace(sessionID); sid != "" {
		return sid
	}
	return "unknown"
}
