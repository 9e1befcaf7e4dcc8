// Package vault is the tenant credential store: exchange access/secret key
// pairs backed by HashiCorp Vault when enabled, or a local
// nacl/secretbox-encrypted file otherwise. Grounded on the teacher's
// internal/vault/client.go (path layout, in-memory cache), adapted from a
// per-user multi-exchange API-key store to a single {access_key,secret_key}
// pair per tenant.
package vault

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/vault/api"
	"golang.org/x/crypto/nacl/secretbox"

	"krw-trading-engine/config"
)

// Credentials is one tenant's exchange API key pair.
type Credentials struct {
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
}

// Store wraps either a real Vault client or a local encrypted-file fallback
// behind one interface, keyed by tenant ID.
type Store struct {
	cfg    config.VaultConfig
	client *api.Client // nil when Vault is disabled

	mu    sync.RWMutex
	cache map[string]Credentials

	localPath string
	localKey  [32]byte
}

// NewStore builds a Store. localDir is where the encrypted fallback file is
// kept when cfg.Enabled is false.
func NewStore(cfg config.VaultConfig, localDir string) (*Store, error) {
	s := &Store{cfg: cfg, cache: make(map[string]Credentials)}

	if !cfg.Enabled {
		key, err := decodeOrGenerateKey(cfg.LocalKeyHex)
		if err != nil {
			return nil, fmt.Errorf("tenant credential key: %w", err)
		}
		s.localKey = key
		s.localPath = filepath.Join(localDir, "credentials.enc")
		if err := s.loadLocal(); err != nil {
			return nil, err
		}
		return s, nil
	}

	vc := api.DefaultConfig()
	vc.Address = cfg.Address
	client, err := api.NewClient(vc)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	client.SetToken(cfg.Token)
	s.client = client
	return s, nil
}

func decodeOrGenerateKey(hexKey string) ([32]byte, error) {
	var key [32]byte
	if hexKey != "" {
		b, err := hex.DecodeString(hexKey)
		if err != nil || len(b) != 32 {
			return key, fmt.Errorf("VAULT_LOCAL_KEY_HEX must be 32 hex-encoded bytes")
		}
		copy(key[:], b)
		return key, nil
	}
	if _, err := rand.Read(key[:]); err != nil {
		return key, fmt.Errorf("generate local key: %w", err)
	}
	return key, nil
}

// Put stores tenantID's credentials, writing through to Vault or the
// encrypted local file.
func (s *Store) Put(ctx context.Context, tenantID string, creds Credentials) error {
	s.mu.Lock()
	s.cache[tenantID] = creds
	snapshot := make(map[string]Credentials, len(s.cache))
	for k, v := range s.cache {
		snapshot[k] = v
	}
	s.mu.Unlock()

	if s.client == nil {
		return s.saveLocal(snapshot)
	}

	path := s.secretPath(tenantID)
	_, err := s.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"data": map[string]interface{}{
			"access_key": creds.AccessKey,
			"secret_key": creds.SecretKey,
		},
	})
	if err != nil {
		return fmt.Errorf("write vault secret for tenant %s: %w", tenantID, err)
	}
	return nil
}

// Get retrieves tenantID's credentials, cache-first.
func (s *Store) Get(ctx context.Context, tenantID string) (Credentials, bool, error) {
	s.mu.RLock()
	if c, ok := s.cache[tenantID]; ok {
		s.mu.RUnlock()
		return c, true, nil
	}
	s.mu.RUnlock()

	if s.client == nil {
		return Credentials{}, false, nil
	}

	secret, err := s.client.Logical().ReadWithContext(ctx, s.secretPath(tenantID))
	if err != nil {
		return Credentials{}, false, fmt.Errorf("read vault secret for tenant %s: %w", tenantID, err)
	}
	if secret == nil || secret.Data == nil {
		return Credentials{}, false, nil
	}
	data, _ := secret.Data["data"].(map[string]interface{})
	creds := Credentials{
		AccessKey: stringField(data, "access_key"),
		SecretKey: stringField(data, "secret_key"),
	}
	s.mu.Lock()
	s.cache[tenantID] = creds
	s.mu.Unlock()
	return creds, true, nil
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func (s *Store) secretPath(tenantID string) string {
	return fmt.Sprintf("%s/data/%s/%s", s.cfg.MountPath, s.cfg.SecretPath, tenantID)
}

// loadLocal decrypts and loads the local credential file, tolerating a
// missing file as "no credentials yet".
func (s *Store) loadLocal() error {
	data, err := os.ReadFile(s.localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read local credential file: %w", err)
	}
	if len(data) < 24 {
		return fmt.Errorf("local credential file is corrupt")
	}
	var nonce [24]byte
	copy(nonce[:], data[:24])
	plain, ok := secretbox.Open(nil, data[24:], &nonce, &s.localKey)
	if !ok {
		return fmt.Errorf("decrypt local credential file: authentication failed")
	}
	var creds map[string]Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return fmt.Errorf("parse local credential file: %w", err)
	}
	s.cache = creds
	return nil
}

// saveLocal encrypts and atomically rewrites the local credential file.
func (s *Store) saveLocal(creds map[string]Credentials) error {
	plain, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], plain, &nonce, &s.localKey)

	if err := os.MkdirAll(filepath.Dir(s.localPath), 0o700); err != nil {
		return fmt.Errorf("mkdir credential dir: %w", err)
	}
	tmp := s.localPath + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return fmt.Errorf("write temp credential file: %w", err)
	}
	return os.Rename(tmp, s.localPath)
}
