package secrets

import (
	"errors"
	"testing"

	"github.com/zalando/go-keyring"
)

func TestSetGetDelete(t *testing.T) {
	keyring.MockInit()

	if err := Set(AccountBotToken, "123:abc"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := Get(AccountBotToken)
	if err != nil || got != "123:abc" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	if err := Delete(AccountBotToken); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := Get(AccountBotToken); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
	if err := Delete(AccountBotToken); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
}

func TestSet_RejectsEmpty(t *testing.T) {
	keyring.MockInit()
	if err := Set("", "x"); err == nil {
		t.Error("expected error for empty account")
	}
	if err := Set(AccountAnalysisAPIKey, "  "); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestResolve(t *testing.T) {
	keyring.MockInit()

	got, err := Resolve("from-config", AccountAnalysisAPIKey)
	if err != nil || got != "from-config" {
		t.Errorf("Resolve with value = %q, %v", got, err)
	}

	got, err = Resolve("", AccountAnalysisAPIKey)
	if err != nil || got != "" {
		t.Errorf("Resolve with nothing stored = %q, %v", got, err)
	}

	if err := Set(AccountAnalysisAPIKey, "sk-test"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err = Resolve("", AccountAnalysisAPIKey)
	if err != nil || got != "sk-test" {
		t.Errorf("Resolve from keyring = %q, %v", got, err)
	}
}
