// Package crypto provides the PKCE, CSRF, and envelope-encryption primitives
// used throughout the broker. Envelope encryption is built on filippo.io/age:
// age's own wire format already carries a version tag and per-chunk STREAM
// nonces, so Seal/Open get "ciphertexts include a version/nonce prefix" and
// "any integrity failure fails closed" for free instead of hand-rolled AEAD
// bookkeeping.
package crypto

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
)

// Envelope seals and opens payloads under a single symmetric data key,
// realized as either a generated/file-backed X25519 identity or a
// passphrase-derived scrypt identity (used when the data key arrives as raw
// bytes from configuration rather than from an on-disk age key file).
type Envelope struct {
	identity  age.Identity
	recipient age.Recipient
	ephemeral bool
}

// GenerateEnvelope creates a new X25519 identity in memory only. Valid for a
// single process lifetime; any ciphertext sealed under it is unrecoverable
// after the process exits. Callers must warn operators when this path is
// taken for at-rest data.
func GenerateEnvelope() (*Envelope, error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, &RNGFailureError{Op: "generate envelope identity", Err: err}
	}
	return &Envelope{identity: id, recipient: id.Recipient(), ephemeral: true}, nil
}

// LoadEnvelope reads an age X25519 identity from an identity file (the same
// format age-keygen produces: optional "#"-prefixed comment lines followed
// by one AGE-SECRET-KEY-1... line).
func LoadEnvelope(keyPath string) (*Envelope, error) {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read age identity file: %w", err)
	}
	identityLine := ""
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		identityLine = line
		break
	}
	if identityLine == "" {
		return nil, fmt.Errorf("no identity found in %s", keyPath)
	}
	id, err := age.ParseX25519Identity(identityLine)
	if err != nil {
		return nil, fmt.Errorf("parse age identity: %w", err)
	}
	return &Envelope{identity: id, recipient: id.Recipient()}, nil
}

// EnsureKeyFile loads the identity at keyPath, generating and persisting a
// new one (owner-read-only) if the file does not yet exist.
func EnsureKeyFile(keyPath string) (*Envelope, error) {
	if _, err := os.Stat(keyPath); err == nil {
		return LoadEnvelope(keyPath)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat age key file: %w", err)
	}

	id, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, &RNGFailureError{Op: "generate persistent envelope identity", Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}
	contents := fmt.Sprintf("# created by brokerd\n%s\n", id.String())
	if err := os.WriteFile(keyPath, []byte(contents), 0o600); err != nil {
		return nil, fmt.Errorf("write age key file: %w", err)
	}
	return &Envelope{identity: id, recipient: id.Recipient()}, nil
}

// NewPassphraseEnvelope builds an envelope from raw key material supplied out
// of band (e.g. CLAUDE_TOKEN_ENCRYPTION_KEY). The bytes are base64-encoded
// into a passphrase and fed to age's scrypt recipient/identity pair, since
// age's public API only accepts X25519 identities in their bech32 string
// form — scrypt is the supported path for "caller-supplied raw key material".
func NewPassphraseEnvelope(key []byte) (*Envelope, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("empty encryption key")
	}
	passphrase := base64.RawStdEncoding.EncodeToString(key)
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("derive scrypt recipient: %w", err)
	}
	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("derive scrypt identity: %w", err)
	}
	return &Envelope{identity: identity, recipient: recipient}, nil
}

// ParseConfiguredKey decodes CLAUDE_TOKEN_ENCRYPTION_KEY, accepting either
// raw 32-byte material or its base64 encoding.
func ParseConfiguredKey(raw string) ([]byte, error) {
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil && len(decoded) > 0 {
		return decoded, nil
	}
	if decoded, err := base64.RawURLEncoding.DecodeString(raw); err == nil && len(decoded) > 0 {
		return decoded, nil
	}
	return []byte(raw), nil
}

// Ephemeral reports whether this envelope's key lives only in process memory.
func (e *Envelope) Ephemeral() bool { return e.ephemeral }

// Seal authenticated-encrypts plaintext under the envelope's data key. Each
// call produces a fresh random file key and STREAM nonce sequence internally.
func (e *Envelope) Seal(plaintext []byte) ([]byte, error) {
	buf := &bytes.Buffer{}
	w, err := age.Encrypt(buf, e.recipient)
	if err != nil {
		return nil, fmt.Errorf("open age writer: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	return buf.Bytes(), nil
}

// Open authenticated-decrypts ciphertext produced by Seal. Any integrity
// failure, key mismatch, or truncated input fails closed as DecryptionError.
func (e *Envelope) Open(ciphertext []byte) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(ciphertext), e.identity)
	if err != nil {
		return nil, &DecryptionError{Op: "envelope open", Err: err}
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, &DecryptionError{Op: "envelope read", Err: err}
	}
	return plaintext, nil
}
