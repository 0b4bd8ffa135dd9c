package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"jobfeed-engine/internal/config"
	"jobfeed-engine/internal/secrets"
	"jobfeed-engine/internal/source/email"
	"jobfeed-engine/internal/source/telegram"
)

// secretAccount names the keychain entry the configured source reads its
// credential from.
func secretAccount(cfg config.Config, sourceID string) (string, error) {
	for _, sc := range cfg.Sources {
		if sc.ID != sourceID {
			continue
		}
		switch sc.Kind {
		case email.Kind:
			return secrets.IMAPAccount(sc.Username, sc.IMAPHost), nil
		case telegram.Kind:
			if cfg.Telegram.AppID == 0 {
				return "", fmt.Errorf("telegram.app_id is not set")
			}
			return secrets.TelegramAccount(cfg.Telegram.AppID), nil
		}
		return "", fmt.Errorf("source %q (%s) has no keychain secret", sourceID, sc.Kind)
	}
	return "", fmt.Errorf("unknown source %q", sourceID)
}

// setSecret stores the first line of in as the credential of sourceID.
func setSecret(cfg config.Config, sourceID string, in io.Reader) (string, error) {
	account, err := secretAccount(cfg, sourceID)
	if err != nil {
		return "", err
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return account, secrets.Set(account, strings.TrimRight(line, "\r\n"))
}

func deleteSecret(cfg config.Config, sourceID string) (string, error) {
	account, err := secretAccount(cfg, sourceID)
	if err != nil {
		return "", err
	}
	return account, secrets.Delete(account)
}
