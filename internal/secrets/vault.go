// Package secrets holds delivery credentials (SMTP password, SMS API key)
// outside the config file, with atomic reload and log redaction helpers.
package secrets

import (
	"fmt"
	"strings"
	"sync"
)

// Loader fetches the current secret set from its source.
type Loader func() (map[string]string, error)

// Vault keeps secrets in memory. Reload swaps the whole set at once; a
// failed reload keeps the previous values.
type Vault struct {
	mu     sync.RWMutex
	values map[string]string
	loader Loader
}

// NewVault runs the loader once and fails if the initial load fails.
func NewVault(loader Loader) (*Vault, error) {
	vals, err := loader()
	if err != nil {
		return nil, fmt.Errorf("initial secret load: %w", err)
	}
	return &Vault{values: vals, loader: loader}, nil
}

// Get returns the secret for key, empty if absent.
func (v *Vault) Get(key string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.values[key]
}

// Keys lists the loaded secret names, never their values.
func (v *Vault) Keys() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	keys := make([]string, 0, len(v.values))
	for k := range v.values {
		keys = append(keys, k)
	}
	return keys
}

// Redacted returns a masked form of the secret for key, safe to log.
func (v *Vault) Redacted(key string) string {
	return mask(v.Get(key))
}

// RedactString masks every known secret value occurring in s. Secrets
// shorter than four characters are left alone to avoid mangling ordinary
// text.
func (v *Vault) RedactString(s string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, secret := range v.values {
		if len(secret) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, secret, mask(secret))
	}
	return s
}

// Reload swaps in a fresh secret set from the loader.
func (v *Vault) Reload() error {
	vals, err := v.loader()
	if err != nil {
		return fmt.Errorf("reload secrets: %w", err)
	}
	v.mu.Lock()
	v.values = vals
	v.mu.Unlock()
	return nil
}

func mask(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 4:
		return "****"
	default:
		return s[:2] + "****"
	}
}
