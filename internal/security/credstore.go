package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/crypto/scrypt"
)

// scrypt parameters (OWASP recommended minimum)
const (
	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32 // AES-256 key size
	saltSize     = 32
)

// CredentialStore persists remembered login credentials encrypted at
// rest. Storage is strictly best-effort: a store that cannot read or
// write its file logs the problem and never fails the caller, so a
// broken cache degrades to "type your password again".
type CredentialStore struct {
	path        string
	fingerprint string
	logger      *slog.Logger
}

// storedCredentials is the plaintext shape before encryption
type storedCredentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// encryptedPayload is the on-disk format
type encryptedPayload struct {
	Version    uint8  `json:"version"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// NewCredentialStore creates a store writing to path. The device
// fingerprint keys the encryption, binding the cache to this machine.
func NewCredentialStore(path, fingerprint string, logger *slog.Logger) *CredentialStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialStore{
		path:        path,
		fingerprint: fingerprint,
		logger:      logger.With(slog.String("component", "credential_store")),
	}
}

// deriveKey derives an AES-256 key from the device fingerprint
func deriveKey(fingerprint string, salt []byte) ([]byte, error) {
	return scrypt.Key([]byte(fingerprint), salt, scryptN, scryptR, scryptP, scryptKeyLen)
}

// Save writes credentials to disk encrypted with AES-256-GCM.
// Failures are logged and swallowed.
func (s *CredentialStore) Save(email, password string) {
	if err := s.save(email, password); err != nil {
		s.logger.Warn("failed to save credentials", slog.String("error", err.Error()))
	}
}

func (s *CredentialStore) save(email, password string) error {
	plaintext, err := json.Marshal(storedCredentials{Email: email, Password: password})
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}

	key, err := deriveKey(s.fingerprint, salt)
	if err != nil {
		return fmt.Errorf("derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	payload := encryptedPayload{
		Version:    1,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: gcm.Seal(nil, nonce, plaintext, nil),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	return nil
}

// Load reads and decrypts stored credentials. A missing, corrupt, or
// foreign-machine file yields ok=false without error.
func (s *CredentialStore) Load() (email, password string, ok bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read credentials", slog.String("error", err.Error()))
		}
		return "", "", false
	}

	var payload encryptedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		s.logger.Warn("credential file is corrupt", slog.String("error", err.Error()))
		return "", "", false
	}

	key, err := deriveKey(s.fingerprint, payload.Salt)
	if err != nil {
		s.logger.Warn("failed to derive key", slog.String("error", err.Error()))
		return "", "", false
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", "", false
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", "", false
	}
	if len(payload.Nonce) != gcm.NonceSize() {
		s.logger.Warn("credential file has invalid nonce")
		return "", "", false
	}

	plaintext, err := gcm.Open(nil, payload.Nonce, payload.Ciphertext, nil)
	if err != nil {
		// Wrong machine or tampered file
		s.logger.Warn("failed to decrypt credentials", slog.String("error", err.Error()))
		return "", "", false
	}

	var creds storedCredentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return "", "", false
	}

	return creds.Email, creds.Password, true
}

// Clear removes the stored credential file if it exists
func (s *CredentialStore) Clear() {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove credentials", slog.String("error", err.Error()))
	}
}
