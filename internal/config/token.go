package config

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	keychainService   = "alix"
	tokenAccount      = "api_token"
	openaiKeyAccount  = "openai_api_key"
	serpapiKeyAccount = "serpapi_api_key"
)

// Keychain reads and writes secrets in the platform secret store.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

// NewKeychain returns the platform secret store: macOS Keychain via the
// security CLI, a restricted-permission JSON file elsewhere.
func NewKeychain() Keychain {
	return keychainReader{}
}

type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (keychainReader) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

// GetAPIToken returns the bearer token protecting the local REST API,
// generating and storing one on first use.
func GetAPIToken(kc Keychain) (string, error) {
	token, err := kc.Get(keychainService, tokenAccount)
	if err == nil && token != "" {
		return token, nil
	}

	token = uuid.New().String()
	if err := kc.Set(keychainService, tokenAccount, token); err != nil {
		return "", fmt.Errorf("storing api token: %w", err)
	}
	return token, nil
}
