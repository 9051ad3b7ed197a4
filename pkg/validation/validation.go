package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// StreamIDRegex validates stream ID format
	StreamIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// UserIDRegex allows the characters identity providers put in subjects
	UserIDRegex = regexp.MustCompile(`^[a-zA-Z0-9._@:|-]+$`)

	// ServerIDRegex validates cluster node IDs (hostnames, pod names)
	ServerIDRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

	ReactionTypeRegex = regexp.MustCompile(`^[a-z0-9_]+$`)
)

const (
	MaxChatLength     = 500
	MaxReactionLength = 32
)

// ValidateStreamID validates stream ID
func ValidateStreamID(streamID string) error {
	if streamID == "" {
		return fmt.Errorf("stream ID is required")
	}
	if len(streamID) > 100 {
		return fmt.Errorf("stream ID is too long (max 100 characters)")
	}
	if !StreamIDRegex.MatchString(streamID) {
		return fmt.Errorf("invalid stream ID format")
	}
	return nil
}

// ValidateUserID validates user ID
func ValidateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("user ID is required")
	}
	if len(userID) > 128 {
		return fmt.Errorf("user ID is too long (max 128 characters)")
	}
	if !UserIDRegex.MatchString(userID) {
		return fmt.Errorf("invalid user ID format")
	}
	return nil
}

func ValidateServerID(serverID string) error {
	if serverID == "" {
		return fmt.Errorf("server ID is required")
	}
	if len(serverID) > 253 {
		return fmt.Errorf("server ID is too long (max 253 characters)")
	}
	if !ServerIDRegex.MatchString(serverID) {
		return fmt.Errorf("invalid server ID format")
	}
	return nil
}

// ValidateChatText checks an already sanitized chat message.
func ValidateChatText(text string) error {
	if err := ValidateNonEmptyString(text, "message text"); err != nil {
		return err
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("message text contains invalid characters")
	}
	return ValidateStringLength(text, 1, MaxChatLength, "message text")
}

func ValidateReactionType(reaction string) error {
	if reaction == "" {
		return fmt.Errorf("reaction type is required")
	}
	if len(reaction) > MaxReactionLength {
		return fmt.Errorf("reaction type is too long (max %d characters)", MaxReactionLength)
	}
	if !ReactionTypeRegex.MatchString(reaction) {
		return fmt.Errorf("invalid reaction type format")
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateICEURL accepts stun:, turn: and turns: server URLs.
func ValidateICEURL(urlStr string) error {
	for _, scheme := range []string{"stun:", "turn:", "turns:"} {
		if strings.HasPrefix(urlStr, scheme) {
			if len(urlStr) == len(scheme) {
				return fmt.Errorf("ICE server URL must have a host")
			}
			return nil
		}
	}
	return fmt.Errorf("invalid ICE server URL scheme (must be stun, turn, or turns)")
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
