// Package privacy scrubs personal data and credentials from messages that
// leave the process: telemetry events and operator notifications.
package privacy

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	urlPattern = regexp.MustCompile(`\b(?:https?|mysql|tcp)://\S+`)

	// national tax ids, formatted (123.456.789-09) or bare (12345678909)
	nationalIDPattern = regexp.MustCompile(`\b\d{3}\.\d{3}\.\d{3}-\d{2}\b|\b\d{11}\b`)

	secretPattern = regexp.MustCompile(`(?i)\b(password|senha|token|api[_-]?key)=\S+`)

	ipv4Pattern = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)
)

// ScrubMessage anonymizes URLs and removes national ids and inline secrets.
func ScrubMessage(message string) string {
	message = urlPattern.ReplaceAllStringFunc(message, AnonymizeURL)
	message = secretPattern.ReplaceAllString(message, "$1=[REDACTED]")
	return nationalIDPattern.ReplaceAllStringFunc(message, MaskNationalID)
}

// MaskNationalID keeps the two check digits of a national id and masks
// the rest.
func MaskNationalID(id string) string {
	digits := make([]byte, 0, len(id))
	for i := 0; i < len(id); i++ {
		if id[i] >= '0' && id[i] <= '9' {
			digits = append(digits, id[i])
		}
	}
	if len(digits) < 2 {
		return "***"
	}
	return "***.***.***-" + string(digits[len(digits)-2:])
}

// AnonymizeURL converts a URL to a stable hash that keeps the scheme, host
// category and port visible in its input but not the host name, path or
// credentials.
func AnonymizeURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		hash := sha256.Sum256([]byte(rawURL))
		return fmt.Sprintf("url-hash-%x", hash[:8])
	}

	var parts []string
	if parsedURL.Scheme != "" {
		parts = append(parts, parsedURL.Scheme)
	}
	if host := parsedURL.Hostname(); host != "" {
		parts = append(parts, categorizeHost(host))
	}
	if parsedURL.Port() != "" {
		parts = append(parts, "port-"+parsedURL.Port())
	}
	if parsedURL.Path != "" && parsedURL.Path != "/" {
		parts = append(parts, anonymizePath(parsedURL.Path))
	}

	hash := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return fmt.Sprintf("%s://%s/url-%x", parsedURL.Scheme, categorizeHost(parsedURL.Hostname()), hash[:6])
}

// categorizeHost anonymizes hostnames while preserving useful categorization
func categorizeHost(host string) string {
	switch {
	case host == "":
		return "unknown-host"
	case host == "localhost" || host == "127.0.0.1" || host == "::1":
		return "localhost"
	case isPrivateIP(host):
		return "private-ip"
	case ipv4Pattern.MatchString(host) || strings.Contains(host, ":"):
		return "public-ip"
	}

	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		return "domain-" + parts[len(parts)-1]
	}
	return "unknown-host"
}

// anonymizePath hashes every path segment except numeric ones.
func anonymizePath(path string) string {
	path = strings.Trim(path, "/")
	if path == "" {
		return "root"
	}

	var segments []string
	for _, segment := range strings.Split(path, "/") {
		switch {
		case segment == "":
			continue
		case isNumeric(segment):
			segments = append(segments, "numeric")
		default:
			hash := sha256.Sum256([]byte(segment))
			segments = append(segments, fmt.Sprintf("seg-%x", hash[:4]))
		}
	}
	return strings.Join(segments, "/")
}

func isPrivateIP(host string) bool {
	privateRanges := []string{
		"10.", "192.168.", "169.254.",
		"172.16.", "172.17.", "172.18.", "172.19.", "172.20.", "172.21.", "172.22.", "172.23.",
		"172.24.", "172.25.", "172.26.", "172.27.", "172.28.", "172.29.", "172.30.", "172.31.",
		"fc00:", "fd00:", "fe80:",
	}
	host = strings.ToLower(host)
	for _, prefix := range privateRanges {
		if strings.HasPrefix(host, prefix) {
			return true
		}
	}
	return false
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
