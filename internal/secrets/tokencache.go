// Package secrets provides at-rest encryption for the optional local OAuth
// token cache, so a refresh token obtained via an interactive OAuth flow
// can be cached on disk between runs without landing in the repository in
// plaintext. AES-256-GCM; TokenCache is the only caller of the cipher
// primitives.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"golang.org/x/oauth2"
)

// Encryptor provides authenticated encryption (AEAD) for the token cache.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// AESEncryptor implements Encryptor using AES-256-GCM.
type AESEncryptor struct {
	key []byte
}

// NewAESEncryptor builds an encryptor from a base64-encoded 32-byte key,
// sourced from the YTARCHIVE_ENCRYPTION_KEY environment variable.
func NewAESEncryptor(base64Key string) (*AESEncryptor, error) {
	if base64Key == "" {
		return nil, fmt.Errorf("secrets: encryption key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("secrets: invalid encryption key: base64 decode failed: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("secrets: invalid encryption key: must be 32 bytes, got %d", len(key))
	}
	return &AESEncryptor{key: key}, nil
}

// Encrypt returns nonce || ciphertext || tag.
func (e *AESEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("secrets: plaintext is empty")
	}
	gcm, err := e.gcm()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("secrets: generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt reverses Encrypt, verifying the authentication tag.
func (e *AESEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("secrets: ciphertext is empty")
	}
	gcm, err := e.gcm()
	if err != nil {
		return nil, err
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("secrets: ciphertext too short: expected at least %d bytes, got %d", nonceSize, len(ciphertext))
	}
	nonce, ct := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("secrets: decryption failed: authentication or integrity check failed")
	}
	return plaintext, nil
}

func (e *AESEncryptor) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("secrets: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets: create GCM: %w", err)
	}
	return gcm, nil
}

// EncryptString encrypts plaintext and base64-encodes the result for
// storage in the token cache file.
func EncryptString(enc Encryptor, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	ciphertext, err := enc.Encrypt([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptString base64-decodes and decrypts a value from the token cache
// file.
func DecryptString(enc Encryptor, base64Ciphertext string) (string, error) {
	if base64Ciphertext == "" {
		return "", nil
	}
	ciphertext, err := base64.StdEncoding.DecodeString(base64Ciphertext)
	if err != nil {
		return "", fmt.Errorf("secrets: base64 decode failed: %w", err)
	}
	plaintext, err := enc.Decrypt(ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// cachedToken is the on-disk shape of an encrypted refresh token entry.
type cachedToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
	TokenType    string    `json:"token_type"`
}

// TokenCache persists an OAuth2 token to disk, encrypted at rest, so an
// interactive authorization only has to happen once per archive.
type TokenCache struct {
	path string
	enc  Encryptor
}

// NewTokenCache returns a cache rooted at path, using enc for at-rest
// encryption. A nil enc disables encryption and the token is stored as
// plain JSON; the backup command passes nil when YTARCHIVE_ENCRYPTION_KEY
// is unset.
func NewTokenCache(path string, enc Encryptor) *TokenCache {
	return &TokenCache{path: path, enc: enc}
}

// Load reads and decrypts the cached token, returning (nil, nil) if no
// cache file exists yet.
func (c *TokenCache) Load() (*oauth2.Token, error) {
	raw, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("secrets: read token cache: %w", err)
	}

	var plain []byte
	if c.enc != nil {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, fmt.Errorf("secrets: decode token cache envelope: %w", err)
		}
		decrypted, err := DecryptString(c.enc, encoded)
		if err != nil {
			return nil, fmt.Errorf("secrets: decrypt token cache: %w", err)
		}
		plain = []byte(decrypted)
	} else {
		plain = raw
	}

	var ct cachedToken
	if err := json.Unmarshal(plain, &ct); err != nil {
		return nil, fmt.Errorf("secrets: parse token cache: %w", err)
	}
	return &oauth2.Token{
		AccessToken:  ct.AccessToken,
		RefreshToken: ct.RefreshToken,
		Expiry:       ct.Expiry,
		TokenType:    ct.TokenType,
	}, nil
}

// Save encrypts and atomically writes tok to the cache file.
func (c *TokenCache) Save(tok *oauth2.Token) error {
	ct := cachedToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		TokenType:    tok.TokenType,
	}
	plain, err := json.Marshal(ct)
	if err != nil {
		return fmt.Errorf("secrets: marshal token: %w", err)
	}

	var out []byte
	if c.enc != nil {
		encoded, err := EncryptString(c.enc, string(plain))
		if err != nil {
			return fmt.Errorf("secrets: encrypt token: %w", err)
		}
		out, err = json.Marshal(encoded)
		if err != nil {
			return fmt.Errorf("secrets: marshal token envelope: %w", err)
		}
	} else {
		out = plain
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("secrets: mkdir token cache dir: %w", err)
	}
	if err := renameio.WriteFile(c.path, out, 0o600); err != nil {
		return fmt.Errorf("secrets: write token cache: %w", err)
	}
	return nil
}
