// Package privacy removes credentials and host details from URLs and
// messages before they are logged or sent to telemetry.
package privacy

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Pre-compiled patterns
var (
	// URL pattern for finding URLs in text, including broker schemes
	urlPattern = regexp.MustCompile(`\b(?:https?|wss?|tcp|ssl|tls|mqtts?)://\S+`)

	// IPv4 pattern for IP address detection
	ipv4Pattern = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)

	secretPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bapi[_-]?key[=:]\S+`),
		regexp.MustCompile(`(?i)\btoken[=:]\S+`),
		regexp.MustCompile(`(?i)\bpassword[=:]\S+`),
		regexp.MustCompile(`(?i)\bbearer\s+\S+`),
	}
)

// redacted replaces secret values.
const redacted = "[REDACTED]"

// ScrubMessage anonymizes every URL in message and redacts obvious secrets.
func ScrubMessage(message string) string {
	scrubbed := urlPattern.ReplaceAllStringFunc(message, AnonymizeURL)
	for _, re := range secretPatterns {
		scrubbed = re.ReplaceAllString(scrubbed, redacted)
	}
	return scrubbed
}

// AnonymizeURL converts a URL to a stable hash that keeps its scheme, host
// category, port and path shape but none of the literal values.
func AnonymizeURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		hash := sha256.Sum256([]byte(rawURL))
		return fmt.Sprintf("url-hash-%x", hash[:8])
	}

	var normalizedParts []string

	if parsedURL.Scheme != "" {
		normalizedParts = append(normalizedParts, parsedURL.Scheme)
	}

	if host := parsedURL.Hostname(); host != "" {
		normalizedParts = append(normalizedParts, categorizeHost(host))
	}

	if parsedURL.Port() != "" {
		normalizedParts = append(normalizedParts, "port-"+parsedURL.Port())
	}

	if parsedURL.Path != "" && parsedURL.Path != "/" {
		normalizedParts = append(normalizedParts, anonymizePath(parsedURL.Path))
	}

	normalized := strings.Join(normalizedParts, ":")
	hash := sha256.Sum256([]byte(normalized))

	return fmt.Sprintf("url-%x", hash[:12])
}

// RedactURL keeps a URL readable for logs but masks the password and drops
// the query string. Unparseable input is fully redacted.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return redacted
	}
	if u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
	}
	if u.RawQuery != "" {
		u.RawQuery = ""
		u.ForceQuery = false
		return u.String() + "?" + redacted
	}
	return u.String()
}

// categorizeHost anonymizes hostnames while preserving useful categorization
func categorizeHost(host string) string {
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return "localhost"
	}

	if isPrivateIP(host) {
		return "private-ip"
	}

	if isIPAddress(host) {
		return "public-ip"
	}

	// For domain names, preserve TLD only
	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		return "domain-" + parts[len(parts)-1]
	}

	return "unknown-host"
}

// knownSegments are path segments of the detection API kept verbatim.
var knownSegments = map[string]bool{"detect": true, "image": true, "video": true, "api": true, "v1": true}

// anonymizePath hashes each path segment except well-known API segments.
func anonymizePath(path string) string {
	path = strings.Trim(path, "/")
	if path == "" {
		return "root"
	}

	var anonymizedSegments []string
	for _, segment := range strings.Split(path, "/") {
		switch {
		case segment == "":
			continue
		case knownSegments[strings.ToLower(segment)]:
			anonymizedSegments = append(anonymizedSegments, strings.ToLower(segment))
		case isNumeric(segment):
			anonymizedSegments = append(anonymizedSegments, "numeric")
		default:
			hash := sha256.Sum256([]byte(segment))
			anonymizedSegments = append(anonymizedSegments, fmt.Sprintf("seg-%x", hash[:4]))
		}
	}

	return strings.Join(anonymizedSegments, "/")
}

// isPrivateIP checks if the host is a private IP address (both IPv4 and IPv6)
func isPrivateIP(host string) bool {
	privateRanges := []string{
		"10.", "172.16.", "172.17.", "172.18.", "172.19.", "172.20.", "172.21.", "172.22.", "172.23.",
		"172.24.", "172.25.", "172.26.", "172.27.", "172.28.", "172.29.", "172.30.", "172.31.",
		"192.168.", "169.254.",
		"fc00:", "fd00:", "fe80:",
	}

	lower := strings.ToLower(host)
	for _, prefix := range privateRanges {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// isIPAddress checks if the host looks like an IP address
func isIPAddress(host string) bool {
	if ipv4Pattern.MatchString(host) {
		return true
	}
	return strings.Contains(host, ":")
}

// isNumeric checks if a string is purely numeric
func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
