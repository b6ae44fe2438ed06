// Package identity owns the validator's signing key pair (its hotkey).
//
// The identity is loaded once at process start and shared read-only by every
// session; nothing here generates keys implicitly on the hot path.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrUnavailable is returned when no identity has been loaded.
var ErrUnavailable = errors.New("identity unavailable")

// Identity is the validator's long-lived signing key pair.
type Identity struct {
	PrivateKey ed25519.PrivateKey
	Name       string
}

// PublicKey returns the public half of the key pair.
func (id Identity) PublicKey() ed25519.PublicKey {
	if len(id.PrivateKey) != ed25519.PrivateKeySize {
		return nil
	}
	return id.PrivateKey.Public().(ed25519.PublicKey)
}

// Address is the stable hex encoding of the public key. Miners route
// sessions and credentials by it.
func (id Identity) Address() string {
	return hex.EncodeToString(id.PublicKey())
}

// Sign signs msg and returns the base64 signature.
func (id Identity) Sign(msg []byte) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(id.PrivateKey, msg))
}

// Valid reports whether the identity carries a usable private key.
func (id Identity) Valid() bool {
	return len(id.PrivateKey) == ed25519.PrivateKeySize
}

// Verify checks a base64 signature made by the holder of publicKeyHex.
func Verify(publicKeyHex string, msg []byte, signature string) bool {
	pub, err := hex.DecodeString(publicKeyHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig)
}

// identityFile is the on-disk format for a validator identity.
type identityFile struct {
	Seed string `json:"seed"`
	Name string `json:"name,omitempty"`
}

// Load reads an identity file written by Save.
func Load(path string) (Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Identity{}, fmt.Errorf("%w: %s not found", ErrUnavailable, path)
		}
		return Identity{}, fmt.Errorf("read identity: %w", err)
	}
	return parse(data)
}

func parse(data []byte) (Identity, error) {
	var f identityFile
	if err := json.Unmarshal(data, &f); err != nil {
		return Identity{}, fmt.Errorf("parse identity: %w", err)
	}
	seed, err := hex.DecodeString(f.Seed)
	if err != nil {
		return Identity{}, fmt.Errorf("parse identity seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return Identity{}, fmt.Errorf("parse identity seed: want %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return Identity{
		PrivateKey: ed25519.NewKeyFromSeed(seed),
		Name:       f.Name,
	}, nil
}

// Generate creates a new random identity.
func Generate(name string) (Identity, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Identity{}, fmt.Errorf("generate identity key: %w", err)
	}
	return Identity{PrivateKey: priv, Name: name}, nil
}

// Save writes the identity with owner-only permissions.
func Save(path string, id Identity) error {
	if !id.Valid() {
		return fmt.Errorf("save identity: %w", ErrUnavailable)
	}
	f := identityFile{
		Seed: hex.EncodeToString(id.PrivateKey.Seed()),
		Name: id.Name,
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write identity: %w", err)
	}
	return nil
}

// Keyring holds the process identity. It is set once during startup and
// read by every session afterwards.
type Keyring struct {
	mu sync.RWMutex
	id Identity
}

// NewKeyring returns a keyring holding id.
func NewKeyring(id Identity) *Keyring {
	return &Keyring{id: id}
}

// LoadKeyring loads the identity at path into a new keyring.
func LoadKeyring(path string) (*Keyring, error) {
	id, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewKeyring(id), nil
}

// CurrentIdentity returns the loaded identity or ErrUnavailable.
func (k *Keyring) CurrentIdentity() (Identity, error) {
	if k == nil {
		return Identity{}, ErrUnavailable
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	if !k.id.Valid() {
		return Identity{}, ErrUnavailable
	}
	return k.id, nil
}

// Clear drops the identity at process teardown.
func (k *Keyring) Clear() {
	k.mu.Lock()
	k.id = Identity{}
	k.mu.Unlock()
}
