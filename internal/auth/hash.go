package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// HashAPIKey hashes an API key using Argon2id.
func HashAPIKey(apiKey string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(apiKey), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	encoded := fmt.Sprintf("%s$%s",
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(hash),
	)
	return encoded, nil
}

// VerifyAPIKey checks an API key against an Argon2id hash.
func VerifyAPIKey(apiKey, encoded string) (bool, error) {
	parts := strings.SplitN(encoded, "$", 2)
	if len(parts) != 2 {
		return false, fmt.Errorf("auth: invalid hash format")
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false, fmt.Errorf("auth: decode salt: %w", err)
	}

	expectedHash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false, fmt.Errorf("auth: decode hash: %w", err)
	}

	computedHash := argon2.IDKey([]byte(apiKey), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return subtle.ConstantTimeCompare(expectedHash, computedHash) == 1, nil
}

// dummyVerify performs an Argon2id hash with the same cost parameters as real
// verification. Called on auth failure paths where no real hash was checked,
// so that response timing does not reveal whether a client ID exists.
func dummyVerify() {
	argon2.IDKey([]byte("dummy"), make([]byte, saltLen), argonTime, argonMemory, argonThreads, argonKeyLen)
}

// Keyring maps client IDs to Argon2id-hashed API keys. The token endpoint
// checks presented credentials against it before issuing a JWT.
type Keyring struct {
	hashes map[string]string
}

// ParseKeyring parses a keyring from its serialized form:
// "client1=encodedHash;client2=encodedHash". Empty input yields an empty
// keyring that rejects all credentials.
func ParseKeyring(s string) (*Keyring, error) {
	k := &Keyring{hashes: make(map[string]string)}
	if s == "" {
		return k, nil
	}
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		clientID, hash, ok := strings.Cut(entry, "=")
		if !ok || clientID == "" || hash == "" {
			return nil, fmt.Errorf("auth: malformed keyring entry %q", entry)
		}
		k.hashes[clientID] = hash
	}
	return k, nil
}

// Verify checks the presented API key for the given client ID. Unknown
// clients burn the same hashing cost as known ones.
func (k *Keyring) Verify(clientID, apiKey string) bool {
	encoded, ok := k.hashes[clientID]
	if !ok {
		dummyVerify()
		return false
	}
	match, err := VerifyAPIKey(apiKey, encoded)
	if err != nil {
		return false
	}
	return match
}

// Empty reports whether the keyring has no registered clients.
func (k *Keyring) Empty() bool {
	return len(k.hashes) == 0
}
