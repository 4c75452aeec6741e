package secrets_test

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/confirmd/confirmd/internal/secrets"
)

func staticLoader(vals map[string]string) secrets.Loader {
	return func() (map[string]string, error) { return vals, nil }
}

func TestVaultInitialLoad(t *testing.T) {
	v, err := secrets.NewVault(staticLoader(map[string]string{
		"CONFIRMD_SMTP_PASSWORD": "smtp-pass",
		"CONFIRMD_SMS_API_KEY":   "sms-key",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if got := v.Get("CONFIRMD_SMTP_PASSWORD"); got != "smtp-pass" {
		t.Fatalf("Get = %q", got)
	}
	if got := v.Get("UNKNOWN"); got != "" {
		t.Fatalf("missing key = %q, want empty", got)
	}
}

func TestVaultInitialLoadFailure(t *testing.T) {
	_, err := secrets.NewVault(func() (map[string]string, error) {
		return nil, errors.New("connection refused")
	})
	if err == nil {
		t.Fatal("expected error from failing loader")
	}
}

func TestVaultReload(t *testing.T) {
	calls := 0
	v, err := secrets.NewVault(func() (map[string]string, error) {
		calls++
		if calls == 1 {
			return map[string]string{"TOKEN": "old"}, nil
		}
		return map[string]string{"TOKEN": "new"}, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := v.Reload(); err != nil {
		t.Fatal(err)
	}
	if got := v.Get("TOKEN"); got != "new" {
		t.Fatalf("Get after reload = %q", got)
	}
}

func TestVaultFailedReloadKeepsValues(t *testing.T) {
	calls := 0
	v, err := secrets.NewVault(func() (map[string]string, error) {
		calls++
		if calls == 1 {
			return map[string]string{"KEY": "original"}, nil
		}
		return nil, errors.New("vault unavailable")
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := v.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if got := v.Get("KEY"); got != "original" {
		t.Fatalf("Get after failed reload = %q", got)
	}
}

func TestVaultConcurrentAccess(t *testing.T) {
	v, err := secrets.NewVault(staticLoader(map[string]string{"K": "V"}))
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = v.Get("K")
		}()
		go func() {
			defer wg.Done()
			_ = v.Reload()
		}()
	}
	wg.Wait()
}

func TestVaultRedacted(t *testing.T) {
	v, err := secrets.NewVault(staticLoader(map[string]string{
		"API_KEY": "sk-abcdef123456",
		"SHORT":   "ab",
	}))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		key  string
		want string
	}{
		{"API_KEY", "sk****"},
		{"SHORT", "****"},
		{"MISSING", ""},
	}
	for _, tt := range tests {
		if got := v.Redacted(tt.key); got != tt.want {
			t.Errorf("Redacted(%s) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestVaultRedactString(t *testing.T) {
	v, err := secrets.NewVault(staticLoader(map[string]string{
		"DB_PASSWORD": "supersecret123",
		"API_TOKEN":   "tok_live_abcdef",
		"TINY":        "ab",
	}))
	if err != nil {
		t.Fatal(err)
	}

	got := v.RedactString("password supersecret123 token tok_live_abcdef ab")
	if strings.Contains(got, "supersecret123") || strings.Contains(got, "tok_live_abcdef") {
		t.Fatalf("secrets survived redaction: %q", got)
	}
	if !strings.Contains(got, "su****") || !strings.Contains(got, "to****") {
		t.Fatalf("masked forms missing: %q", got)
	}
	if !strings.Contains(got, "ab") {
		t.Fatalf("short value should be untouched: %q", got)
	}

	plain := "nothing sensitive here"
	if got := v.RedactString(plain); got != plain {
		t.Fatalf("clean string changed: %q", got)
	}
}

func TestVaultKeys(t *testing.T) {
	v, err := secrets.NewVault(staticLoader(map[string]string{"A": "1", "B": "2"}))
	if err != nil {
		t.Fatal(err)
	}

	keys := v.Keys()
	if len(keys) != 2 {
		t.Fatalf("keys = %v", keys)
	}
	seen := map[string]bool{}
	for _, k := range keys {
		seen[k] = true
	}
	if !seen["A"] || !seen["B"] {
		t.Fatalf("keys = %v", keys)
	}
}

func TestEnvLoader(t *testing.T) {
	t.Setenv("CONFIRMD_TEST_SECRET", "mysecret")
	loader := secrets.EnvLoader("CONFIRMD_TEST_SECRET", "CONFIRMD_ABSENT_SECRET")

	vals, err := loader()
	if err != nil {
		t.Fatal(err)
	}
	if vals["CONFIRMD_TEST_SECRET"] != "mysecret" {
		t.Fatalf("vals = %v", vals)
	}
	if _, ok := vals["CONFIRMD_ABSENT_SECRET"]; ok {
		t.Fatal("unset variable should be omitted")
	}
}
