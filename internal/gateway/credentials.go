package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/candorvoice/candor/internal/store"
)

// Credentials reads and writes the provider id → secret mapping persisted
// under the apiKeys storage key. Keys are never logged.
type Credentials struct {
	store store.Store
}

// NewCredentials wraps st as the credential source.
func NewCredentials(st store.Store) *Credentials {
	return &Credentials{store: st}
}

// APIKey returns the stored secret for providerID, or "" when none is set.
func (c *Credentials) APIKey(ctx context.Context, providerID string) (string, error) {
	keys, err := c.load(ctx)
	if err != nil {
		return "", err
	}
	return keys[providerID], nil
}

// SetAPIKey stores the secret for providerID. An empty secret removes the
// entry.
func (c *Credentials) SetAPIKey(ctx context.Context, providerID, secret string) error {
	keys, err := c.load(ctx)
	if err != nil {
		return err
	}
	if secret == "" {
		delete(keys, providerID)
	} else {
		keys[providerID] = secret
	}

	data, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("gateway: marshal api keys: %w", err)
	}
	return c.store.Set(ctx, store.KeyAPIKeys, data)
}

// load reads the full mapping, treating a missing key as empty.
func (c *Credentials) load(ctx context.Context) (map[string]string, error) {
	data, err := c.store.Get(ctx, store.KeyAPIKeys)
	if errors.Is(err, store.ErrNotFound) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("gateway: read api keys: %w", err)
	}

	keys := map[string]string{}
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("gateway: parse api keys: %w", err)
	}
	return keys, nil
}
