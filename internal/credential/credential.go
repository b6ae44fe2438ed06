// Package credential generates the ephemeral SSH key pairs a validator hands
// to a miner for the lifetime of one session.
package credential

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/ssh"
)

// ErrGeneration wraps every failure to produce a key pair.
var ErrGeneration = errors.New("credential generation failed")

// Credential is one ephemeral key pair. The private half only ever lives in
// memory; the public half is an authorized_keys line the miner installs and
// later removes.
type Credential struct {
	PrivateKeyPEM []byte
	PublicKey     []byte
}

// PrivateKeyText returns the OpenSSH PEM private key as text.
func (c Credential) PrivateKeyText() string {
	return string(c.PrivateKeyPEM)
}

// Fingerprint returns the SHA256 fingerprint of the public half, for logs.
func (c Credential) Fingerprint() string {
	pub, _, _, _, err := ssh.ParseAuthorizedKey(c.PublicKey)
	if err != nil {
		return ""
	}
	return ssh.FingerprintSHA256(pub)
}

// Generator creates fresh credentials. The zero value reads from crypto/rand.
type Generator struct {
	Rand io.Reader
}

// Generate returns a new ed25519 key pair whose public line carries owner as
// its comment so a miner can tell whose key it is holding.
func (g Generator) Generate(owner string) (Credential, error) {
	r := g.Rand
	if r == nil {
		r = rand.Reader
	}

	pub, priv, err := ed25519.GenerateKey(r)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: generate key: %v", ErrGeneration, err)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: encode public key: %v", ErrGeneration, err)
	}
	line := bytes.TrimSpace(ssh.MarshalAuthorizedKey(sshPub))
	if owner = strings.TrimSpace(owner); owner != "" {
		line = append(line, ' ')
		line = append(line, owner...)
	}

	block, err := ssh.MarshalPrivateKey(priv, owner)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: encode private key: %v", ErrGeneration, err)
	}

	return Credential{
		PrivateKeyPEM: pem.EncodeToMemory(block),
		PublicKey:     line,
	}, nil
}
