package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadTenants reads one TenantConfig per `<id>.env` file in dir, per
// spec.md §6's "per tenant, an env-style file" and §4.9's "loads all
// tenant configs from the tenants directory at boot". Filesystem-unsafe IDs
// are rejected rather than sanitized, so a bad tenant file fails loudly at
// boot instead of silently colliding with another tenant's ledger paths.
func LoadTenants(dir string) ([]TenantConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read tenants dir %s: %w", dir, err)
	}

	var tenants []TenantConfig
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".env") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".env")
		tc, err := LoadTenantEnvFile(filepath.Join(dir, e.Name()), id)
		if err != nil {
			return nil, fmt.Errorf("load tenant %s: %w", id, err)
		}
		tenants = append(tenants, tc)
	}
	return tenants, nil
}

// LoadTenantEnvFile parses one env-style file into a TenantConfig using the
// keys spec.md §6 names: ACCESS_KEY, SECRET_KEY, DASHBOARD_PORT,
// PAPER_TRADE, PAPER_BALANCE, plus optional notification tokens.
func LoadTenantEnvFile(path, id string) (TenantConfig, error) {
	if !IsFilesystemSafeID(id) {
		return TenantConfig{}, fmt.Errorf("tenant id %q is not filesystem-safe", id)
	}
	vars, err := godotenv.Read(path)
	if err != nil {
		return TenantConfig{}, fmt.Errorf("parse env file: %w", err)
	}

	port, _ := strconv.Atoi(vars["DASHBOARD_PORT"])
	paperBalance, _ := strconv.ParseFloat(vars["PAPER_BALANCE"], 64)

	return TenantConfig{
		ID:            id,
		AccessKey:     vars["ACCESS_KEY"],
		SecretKey:     vars["SECRET_KEY"],
		LogDir:        filepath.Join("tenants", id),
		DashboardPort: port,
		PaperMode:     vars["PAPER_TRADE"] == "true",
		PaperBalance:  paperBalance,
		Notify: NotifyConfig{
			TelegramBotToken: vars["TELEGRAM_BOT_TOKEN"],
			TelegramChatID:   vars["TELEGRAM_CHAT_ID"],
			DiscordWebhook:   vars["DISCORD_WEBHOOK_URL"],
		},
	}, nil
}

// WriteTenantEnvFile atomically (re)writes a tenant's env file, used by the
// dashboard's POST /api/register per spec.md §6.
func WriteTenantEnvFile(dir string, tc TenantConfig) error {
	if !IsFilesystemSafeID(tc.ID) {
		return fmt.Errorf("tenant id %q is not filesystem-safe", tc.ID)
	}
	lines := []string{
		"ACCESS_KEY=" + tc.AccessKey,
		"SECRET_KEY=" + tc.SecretKey,
		fmt.Sprintf("DASHBOARD_PORT=%d", tc.DashboardPort),
		fmt.Sprintf("PAPER_TRADE=%t", tc.PaperMode),
		fmt.Sprintf("PAPER_BALANCE=%g", tc.PaperBalance),
	}
	if tc.Notify.TelegramBotToken != "" {
		lines = append(lines, "TELEGRAM_BOT_TOKEN="+tc.Notify.TelegramBotToken)
	}
	if tc.Notify.TelegramChatID != "" {
		lines = append(lines, "TELEGRAM_CHAT_ID="+tc.Notify.TelegramChatID)
	}
	if tc.Notify.DiscordWebhook != "" {
		lines = append(lines, "DISCORD_WEBHOOK_URL="+tc.Notify.DiscordWebhook)
	}

	content := strings.Join(lines, "\n") + "\n"
	path := filepath.Join(dir, tc.ID+".env")
	tmp := path + ".tmp"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir tenants dir: %w", err)
	}
	if err := os.WriteFile(tmp, []byte(content), 0o600); err != nil {
		return fmt.Errorf("write temp tenant file: %w", err)
	}
	return os.Rename(tmp, path)
}

// IsFilesystemSafeID reports whether id is safe to use as a path component
// (spec.md §3: "IDs are filesystem-safe").
func IsFilesystemSafeID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

// LowestFreePort counts up from base and returns the first port not marked
// taken in the used set, per spec.md §6's
// "allocates the lowest free dashboard port starting at 3737".
func LowestFreePort(base int, used map[int]bool) int {
	for port := base; ; port++ {
		if !used[port] {
			return port
		}
	}
}
