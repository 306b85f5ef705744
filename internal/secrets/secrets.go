// Package secrets keeps credentials out of plaintext on disk. The .env
// file is stored encrypted; the passphrase is typed at startup and used
// once for decryption, never written anywhere.
//
// Cipher file layout, base64-encoded: salt(16) + iv(12) + ciphertext + tag(16).
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/term"
)

const (
	keyLen           = 32
	saltLen          = 16
	ivLen            = 12
	tagLen           = 16
	pbkdf2Iterations = 100000
)

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, keyLen, sha256.New)
}

// Encrypt seals plaintext under the password.
func Encrypt(plainText []byte, password string) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to generate iv: %w", err)
	}

	gcm, err := newGCM(deriveKey(password, salt))
	if err != nil {
		return nil, err
	}

	// Seal appends ciphertext+tag, giving the salt+iv+ct+tag layout.
	out := make([]byte, 0, saltLen+ivLen+len(plainText)+tagLen)
	out = append(out, salt...)
	out = append(out, iv...)
	out = gcm.Seal(out, iv, plainText, nil)
	return out, nil
}

// Decrypt opens a ciphertext produced by Encrypt. A wrong password
// fails the GCM tag check and returns an error.
func Decrypt(cipherData []byte, password string) ([]byte, error) {
	if len(cipherData) < saltLen+ivLen+tagLen {
		return nil, errors.New("ciphertext too short")
	}
	salt := cipherData[:saltLen]
	iv := cipherData[saltLen : saltLen+ivLen]
	sealed := cipherData[saltLen+ivLen:]

	gcm, err := newGCM(deriveKey(password, salt))
	if err != nil {
		return nil, err
	}

	plain, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, errors.New("decryption failed, check the password")
	}
	return plain, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return gcm, nil
}

// ParseEnvText parses KEY=VALUE lines, stripping quotes and skipping
// comments and blanks.
func ParseEnvText(text string) map[string]string {
	result := make(map[string]string)
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		eq := strings.IndexRune(trimmed, '=')
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(trimmed[:eq])
		value := strings.TrimSpace(trimmed[eq+1:])
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}
		result[key] = value
	}
	return result
}

// PromptPassword reads a password from the terminal without echo.
func PromptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(string(password)), nil
}

// EncryptFile encrypts src's contents under password into dst,
// base64-encoded so the file stays diffable and copy-pasteable.
func EncryptFile(src, dst, password string) error {
	plain, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", src, err)
	}
	sealed, err := Encrypt(plain, password)
	if err != nil {
		return err
	}
	encoded := base64.StdEncoding.EncodeToString(sealed)
	if err := os.WriteFile(dst, []byte(encoded), 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return nil
}

// LoadEncryptedEnv decrypts the env file with a password prompted from
// the terminal and exports its variables into the process environment.
func LoadEncryptedEnv(envPath string) error {
	data, err := os.ReadFile(envPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", envPath, err)
	}

	password, err := PromptPassword("Password for " + envPath + ": ")
	if err != nil {
		return err
	}

	plain, err := DecryptFileData(data, password)
	if err != nil {
		return err
	}
	for key, value := range ParseEnvText(string(plain)) {
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}
	return nil
}

// DecryptFileData handles both base64-encoded and raw binary cipher
// files.
func DecryptFileData(data []byte, password string) ([]byte, error) {
	compact := strings.Map(func(r rune) rune {
		if r == ' ' || r == '\n' || r == '\r' || r == '\t' {
			return -1
		}
		return r
	}, string(data))

	if decoded, err := base64.StdEncoding.DecodeString(compact); err == nil {
		return Decrypt(decoded, password)
	}
	return Decrypt(data, password)
}
