// Package idgen mints short, URL-safe identifiers for live connections and
// streams, backed by nanoid. Messages and tasks use UUIDs instead.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes distinguish the kinds of ids in logs.
const (
	PrefixWebSocket = "ws-"
	PrefixStream    = "rpc-"
	PrefixSSE       = "sse-"
)

// Alphabet defines the character set used for the random portion of the ID.
const Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters generated (excluding the prefix).
const Length = 10

// Generate returns a new unique ID with the given prefix.
func Generate(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}
