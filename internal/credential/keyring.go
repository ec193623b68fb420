package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/99designs/keyring"
	"golang.org/x/oauth2"
)

const serviceName = "inbox-triage"

// Credential keys.
const (
	KeyIMAPPassword    = "imap-password"
	KeyGmailToken      = "gmail-token"
	KeyAnthropicAPIKey = "anthropic-api-key"
	KeyGeminiAPIKey    = "gemini-api-key"
	KeyOpenAIAPIKey    = "openai-api-key"
)

// envVars maps keys to the environment variables that override them.
var envVars = map[string]string{
	KeyIMAPPassword:    "TRIAGE_IMAP_PASSWORD",
	KeyAnthropicAPIKey: "ANTHROPIC_API_KEY",
	KeyGeminiAPIKey:    "GEMINI_API_KEY",
	KeyOpenAIAPIKey:    "OPENAI_API_KEY",
}

// ErrNotFound is returned when a credential is neither in the environment
// nor in the keyring.
var ErrNotFound = errors.New("credential not found")

// Keys returns the known credential keys.
func Keys() []string {
	keys := []string{KeyIMAPPassword, KeyGmailToken, KeyAnthropicAPIKey, KeyGeminiAPIKey, KeyOpenAIAPIKey}
	sort.Strings(keys)
	return keys
}

// Known reports whether key is a known credential key.
func Known(key string) bool {
	for _, k := range Keys() {
		if k == key {
			return true
		}
	}
	return false
}

// APIKeyFor returns the credential key holding the API key of a classifier
// provider, or "" when the provider needs none.
func APIKeyFor(provider string) string {
	switch provider {
	case "anthropic":
		return KeyAnthropicAPIKey
	case "gemini":
		return KeyGeminiAPIKey
	case "openai":
		return KeyOpenAIAPIKey
	}
	return ""
}

// EnvVar returns the environment variable that overrides key, if any.
func EnvVar(key string) string {
	return envVars[key]
}

// Vault reads and writes credentials in the system keyring.
type Vault struct {
	ring keyring.Keyring
}

// Open returns a vault backed by the system keyring. fileDir is used by the
// encrypted file backend when no native keyring is available.
func Open(fileDir string) (*Vault, error) {
	if fileDir == "" {
		fileDir = "~/.config/inbox-triage/credentials"
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt("inbox-triage-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewVault(ring), nil
}

// NewVault wraps an opened keyring.
func NewVault(ring keyring.Keyring) *Vault {
	return &Vault{ring: ring}
}

// Get retrieves a credential value by key from the keyring.
func (v *Vault) Get(key string) (string, error) {
	item, err := v.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Lookup returns the credential from its environment variable when set,
// and from the keyring otherwise.
func (v *Vault) Lookup(key string) (string, error) {
	if env := envVars[key]; env != "" {
		if val := os.Getenv(env); val != "" {
			return val, nil
		}
	}
	return v.Get(key)
}

// Set stores a credential value by key in the keyring.
func (v *Vault) Set(key, value string) error {
	err := v.ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: serviceName + " " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Delete removes a credential by key from the keyring.
func (v *Vault) Delete(key string) error {
	err := v.ring.Remove(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}

// SaveToken stores the Gmail OAuth token as JSON.
func (v *Vault) SaveToken(tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encoding gmail token: %w", err)
	}
	return v.Set(KeyGmailToken, string(data))
}

// LoadToken reads the Gmail OAuth token.
func (v *Vault) LoadToken() (*oauth2.Token, error) {
	raw, err := v.Get(KeyGmailToken)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return nil, fmt.Errorf("decoding gmail token: %w", err)
	}
	return &tok, nil
}
