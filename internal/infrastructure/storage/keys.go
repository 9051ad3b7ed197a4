package storage

import (
	"path"
	"strings"
)

// applyPrefix joins the configured prefix and key without doubling slashes
// or the prefix itself.
func applyPrefix(prefix, key string) string {
	trimmed := strings.TrimLeft(strings.TrimSpace(key), "/")
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return trimmed
	}
	if trimmed == "" {
		return prefix
	}
	if trimmed == prefix || strings.HasPrefix(trimmed, prefix+"/") {
		return trimmed
	}
	return prefix + "/" + trimmed
}

func joinURL(base, key string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return base
	}
	return base + "/" + key
}

// cleanKey rejects keys that would escape the storage root once mapped onto
// a filesystem.
func cleanKey(key string) (string, bool) {
	cleaned := path.Clean("/" + key)
	if cleaned == "/" {
		return "", false
	}
	return strings.TrimPrefix(cleaned, "/"), cleaned == "/"+strings.TrimLeft(key, "/")
}
