// Package secrets reads and writes tokens in the OS keychain.
package secrets

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

// Service groups the app's secrets in the OS keychain.
const Service = "iget"

// Known accounts.
const (
	AccountBotToken       = "telegram:bot_token"
	AccountAnalysisAPIKey = "analysis:api_key"
	AccountSlackWebhook   = "slack:webhook_url"
)

// Accounts lists the accounts the CLI manages.
var Accounts = []string{AccountBotToken, AccountAnalysisAPIKey, AccountSlackWebhook}

// ErrNotFound means the account has no secret in the keychain.
var ErrNotFound = errors.New("secret not found")

func Get(account string) (string, error) {
	if strings.TrimSpace(account) == "" {
		return "", errors.New("keyring account name is empty")
	}
	v, err := keyring.Get(Service, account)
	if errors.Is(err, keyring.ErrNotFound) || (err == nil && strings.TrimSpace(v) == "") {
		return "", fmt.Errorf("%s: %w", account, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read %s from keyring: %w", account, err)
	}
	return v, nil
}

func Set(account, value string) error {
	if strings.TrimSpace(account) == "" {
		return errors.New("keyring account name is empty")
	}
	if strings.TrimSpace(value) == "" {
		return errors.New("secret is empty")
	}
	if err := keyring.Set(Service, account, value); err != nil {
		return fmt.Errorf("store %s in keyring: %w", account, err)
	}
	return nil
}

func Delete(account string) error {
	if strings.TrimSpace(account) == "" {
		return errors.New("keyring account name is empty")
	}
	err := keyring.Delete(Service, account)
	if errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("%s: %w", account, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete %s from keyring: %w", account, err)
	}
	return nil
}

// Resolve returns value when set, otherwise the keychain entry for account.
// A missing entry yields an empty string and no error.
func Resolve(value, account string) (string, error) {
	if strings.TrimSpace(value) != "" {
		return value, nil
	}
	v, err := Get(account)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return v, err
}
