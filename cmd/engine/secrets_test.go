package main

import (
	"strings"
	"testing"

	"jobfeed-engine/internal/config"
	"jobfeed-engine/internal/secrets"

	"github.com/zalando/go-keyring"
)

func secretsConfig() config.Config {
	var cfg config.Config
	cfg.Telegram.AppID = 12
	cfg.Sources = []config.Source{
		{ID: "mail", Kind: "email", IMAPHost: "imap.example.com", Username: "me"},
		{ID: "tg", Kind: "telegram"},
		{ID: "lever-acme", Kind: "lever", Slug: "acme"},
	}
	return cfg
}

func TestSetAndDeleteSecret(t *testing.T) {
	keyring.MockInit()
	cfg := secretsConfig()

	account, err := setSecret(cfg, "mail", strings.NewReader("hunter2\n"))
	if err != nil {
		t.Fatalf("setSecret: %v", err)
	}
	if account != "jobfeed:imap:me@imap.example.com" {
		t.Fatalf("account = %q", account)
	}
	got, err := secrets.Lookup(account, "")
	if err != nil || got != "hunter2" {
		t.Fatalf("Lookup = %q, %v", got, err)
	}

	if _, err := deleteSecret(cfg, "mail"); err != nil {
		t.Fatalf("deleteSecret: %v", err)
	}
	if _, err := secrets.Lookup(account, ""); err == nil {
		t.Fatal("secret still present after delete")
	}
}

func TestSecretAccount(t *testing.T) {
	cfg := secretsConfig()
	if a, err := secretAccount(cfg, "tg"); err != nil || a != "jobfeed:telegram:12" {
		t.Fatalf("telegram account = %q, %v", a, err)
	}
	if _, err := secretAccount(cfg, "lever-acme"); err == nil {
		t.Fatal("lever source has no secret")
	}
	if _, err := secretAccount(cfg, "nope"); err == nil {
		t.Fatal("unknown source accepted")
	}
}

func TestSetSecretRejectsEmptyInput(t *testing.T) {
	keyring.MockInit()
	if _, err := setSecret(secretsConfig(), "mail", strings.NewReader("")); err == nil {
		t.Fatal("empty secret stored")
	}
}
