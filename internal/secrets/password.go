// Package secrets resolves source credentials from the OS keychain, with an
// environment fallback for headless hosts.
package secrets

import (
	"fmt"
	"os"
	"strings"

	"jobfeed-engine/internal/errors"

	"github.com/zalando/go-keyring"
)

// KeyringService groups the engine's secrets in the OS keychain.
const KeyringService = "jobfeed"

// Lookup reads the secret stored under account. When the keychain has no
// entry (or no keychain is available) the environment variable envKey is
// used instead.
func Lookup(account, envKey string) (string, error) {
	if strings.TrimSpace(account) != "" {
		pw, err := keyring.Get(KeyringService, account)
		if err == nil && strings.TrimSpace(pw) != "" {
			return pw, nil
		}
	}
	if envKey != "" {
		if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
			return v, nil
		}
	}
	return "", errors.Configuration(fmt.Sprintf("secret %q not found in keychain or $%s", account, envKey), nil)
}

func Set(account, secret string) error {
	if strings.TrimSpace(account) == "" {
		return errors.Configuration("keyring account name is empty", nil)
	}
	if strings.TrimSpace(secret) == "" {
		return errors.Configuration("secret is empty", nil)
	}
	return keyring.Set(KeyringService, account, secret)
}

func Delete(account string) error {
	if strings.TrimSpace(account) == "" {
		return errors.Configuration("keyring account name is empty", nil)
	}
	return keyring.Delete(KeyringService, account)
}

// IMAPAccount names the keychain entry of an IMAP login.
func IMAPAccount(username, host string) string {
	return fmt.Sprintf("jobfeed:imap:%s@%s", username, host)
}

// TelegramAccount names the keychain entry holding a Telegram app hash.
func TelegramAccount(appID int) string {
	return fmt.Sprintf("jobfeed:telegram:%d", appID)
}
