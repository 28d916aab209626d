package compose

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nholik/deckhand/internal/service"
)

// Fingerprint computes a SHA-256 hash for the given compose bytes.
func Fingerprint(body []byte) (string, error) {
	if len(body) == 0 {
		return "", errors.New("compose body is empty")
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}

// DefinitionFingerprint hashes the JSON form of a service definition. Two definitions share a
// fingerprint only if every field matches.
func DefinitionFingerprint(def service.Definition) (string, error) {
	body, err := json.Marshal(def)
	if err != nil {
		return "", fmt.Errorf("encode definition %q: %w", def.Name, err)
	}
	return Fingerprint(body)
}
