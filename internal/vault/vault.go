// internal/vault/vault.go
//
// Minimal Vault client for secret references in configuration.
//
// Context
// -------
// The config loader replaces `vault:<mount>/<path>#<key>` values at load
// time; this package is the whole of its Vault surface: construct once,
// read KV-v2 strings with a per-key TTL cache, keep the token alive in
// the background.  Nothing else in Groundplan talks to Vault.
//
// Environment: VAULT_ADDR and VAULT_TOKEN, per the SDK's defaults.
package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	vault "github.com/hashicorp/vault/api"
)

// Client is safe for concurrent use.  Zero value is invalid; construct
// with New.
type Client struct {
	api   *vault.Client
	logFn func(string, ...any)

	mu    sync.RWMutex
	cache map[string]secret // "<path>#<key>" → value with expiry
}

type secret struct {
	val string
	exp time.Time
}

// New builds the client from the SDK's environment config and starts the
// token-renewal loop, which runs until ctx is cancelled.
func New(ctx context.Context, logFn func(string, ...any)) (*Client, error) {
	if logFn == nil {
		logFn = func(string, ...any) {}
	}

	cfg := vault.DefaultConfig()
	if err := cfg.ReadEnvironment(); err != nil {
		return nil, fmt.Errorf("vault env cfg: %w", err)
	}
	api, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vault api: %w", err)
	}
	if tok := os.Getenv("VAULT_TOKEN"); tok != "" {
		api.SetToken(tok)
	}

	c := &Client{
		api:   api,
		logFn: logFn,
		cache: make(map[string]secret),
	}
	go c.renewLoop(ctx)
	return c, nil
}

// GetKV reads one string key from a KV-v2 secret.  With ttl > 0 the value
// is cached, so config reloads within the TTL cost no Vault round-trip.
func (c *Client) GetKV(ctx context.Context, secretPath, key string, ttl time.Duration) (string, error) {
	if secretPath == "" || key == "" {
		return "", errors.New("secret path and key must be non-empty")
	}
	ck := secretPath + "#" + key

	if ttl > 0 {
		c.mu.RLock()
		s, ok := c.cache[ck]
		c.mu.RUnlock()
		if ok && time.Now().Before(s.exp) {
			return s.val, nil
		}
	}

	mount, rel, _ := strings.Cut(secretPath, "/")
	sec, err := c.api.KVv2(mount).Get(ctx, rel)
	if err != nil {
		return "", fmt.Errorf("vault get %s: %w", secretPath, err)
	}
	raw, ok := sec.Data[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in secret %q", key, secretPath)
	}
	val, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("value at %s is not a string", ck)
	}

	if ttl > 0 {
		c.mu.Lock()
		c.cache[ck] = secret{val: val, exp: time.Now().Add(ttl)}
		c.mu.Unlock()
	}
	return val, nil
}

// renewLoop renews the token at half its remaining lease.  A failed or
// non-renewable probe backs off and tries again; static dev tokens just
// cycle through the hourly branch.
func (c *Client) renewLoop(ctx context.Context) {
	for ctx.Err() == nil {
		sec, err := c.api.Auth().Token().RenewSelf(0)
		if err != nil {
			c.logFn("vault: token renew failed: %v", err)
			sleep(ctx, 30*time.Second)
			continue
		}
		if sec == nil || sec.Auth == nil || !sec.Auth.Renewable {
			c.logFn("vault: token not renewable, re-checking hourly")
			sleep(ctx, time.Hour)
			continue
		}
		lease := time.Duration(sec.Auth.LeaseDuration) * time.Second
		if lease < time.Minute {
			lease = time.Minute
		}
		sleep(ctx, lease/2)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
