// Package storage archives generated artifacts. It provides
// generator.ArtifactStore implementations for local disk and S3.
package storage

import (
	"errors"
	"path"
	"strings"
)

// ErrInvalidKey is returned for object keys that are empty or escape the archive root.
var ErrInvalidKey = errors.New("storage: invalid key")

// cleanKey normalizes a slash-separated key and rejects keys that would
// resolve outside the archive root.
func cleanKey(key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" || cleaned != strings.TrimPrefix(key, "/") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}
