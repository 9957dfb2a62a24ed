package validation

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	// MaxClientIDLength caps the source and target ids carried in packets.
	MaxClientIDLength = 255
)

var (
	// ClientIDRegex validates source/target id format
	ClientIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:@-]+$`)
)

// ValidateClientID validates a source or target id
func ValidateClientID(id string) error {
	if id == "" {
		return fmt.Errorf("client ID is required")
	}
	if len(id) > MaxClientIDLength {
		return fmt.Errorf("client ID is too long (max %d characters)", MaxClientIDLength)
	}
	if !ClientIDRegex.MatchString(id) {
		return fmt.Errorf("invalid client ID format")
	}
	return nil
}

// ValidateConnectionID parses a connection id taken from a URL path
func ValidateConnectionID(raw string) (uint64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("connection ID is required")
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid connection ID format")
	}
	if id == 0 {
		return 0, fmt.Errorf("connection ID must be positive")
	}
	return id, nil
}

// ValidateListenAddress validates a host:port listen address
func ValidateListenAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address is required")
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address format: %w", err)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 0 || p > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(urlStr string, schemes ...string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if len(schemes) > 0 {
		allowed := false
		for _, s := range schemes {
			if u.Scheme == s {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("invalid URL scheme (must be one of %s)", strings.Join(schemes, ", "))
		}
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidatePriority validates a priority name
func ValidatePriority(priority string) error {
	switch priority {
	case "low", "medium", "high":
		return nil
	default:
		return fmt.Errorf("invalid priority (must be low, medium, or high)")
	}
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
