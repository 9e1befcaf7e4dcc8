package tenant

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"krw-trading-engine/config"
	"krw-trading-engine/internal/dashboard"
	"krw-trading-engine/internal/events"
	"krw-trading-engine/internal/vault"
)

func testConfig(tenantsDir string, basePort int) config.Config {
	cfg := config.Config{}
	cfg.GlobalConfig.TenantsDir = tenantsDir
	cfg.GlobalConfig.BasePort = basePort
	cfg.Strategy = config.DefaultStrategy()
	return cfg
}

func newTestSupervisor(t *testing.T) (*Supervisor, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := testConfig(dir, 23737)
	vaultStore, err := vault.NewStore(config.VaultConfig{}, dir)
	require.NoError(t, err)
	sv := New(cfg, vaultStore, events.NewBus(), nil, nil, zerolog.Nop())
	t.Cleanup(sv.StopAll)
	return sv, dir
}

// Start spawns the tenant's loop and dashboard without error, and the
// tenant shows up in Tenants() per spec.md §4.9.
func TestStartRegistersTenant(t *testing.T) {
	sv, dir := newTestSupervisor(t)
	tc := config.TenantConfig{ID: "alice", LogDir: dir + "/alice", DashboardPort: 23801, PaperMode: true, PaperBalance: 1_000_000}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, sv.Start(ctx, tc))

	assert.Contains(t, sv.Tenants(), "alice")
}

// Starting the same tenant ID twice is rejected, matching the "exactly one
// loop per tenant" invariant spec.md §4.9 implies.
func TestStartRejectsDuplicateTenant(t *testing.T) {
	sv, dir := newTestSupervisor(t)
	tc := config.TenantConfig{ID: "bob", LogDir: dir + "/bob", DashboardPort: 23802, PaperMode: true, PaperBalance: 1_000_000}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, sv.Start(ctx, tc))
	err := sv.Start(ctx, tc)
	assert.Error(t, err)
}

// registerHandler rejects a mismatched invite code before ever touching the
// filesystem or starting a loop, per spec.md §6's POST /api/register
// contract.
func TestRegisterHandlerRejectsBadInviteCode(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir, 23900)
	cfg.GlobalConfig.InviteCode = "secret"
	vaultStore, err := vault.NewStore(config.VaultConfig{}, dir)
	require.NoError(t, err)
	sv := New(cfg, vaultStore, events.NewBus(), nil, nil, zerolog.Nop())
	t.Cleanup(sv.StopAll)

	_, err = sv.registerHandler()(dashboard.RegisterRequest{InviteCode: "wrong", Nickname: "carol"})
	assert.Error(t, err)
	assert.NotContains(t, sv.Tenants(), "carol")
}

// A successful registration hot-starts the tenant and allocates the lowest
// free dashboard port, per spec.md §6/§4.9.
func TestRegisterHandlerHotStartsTenant(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir, 24000)
	vaultStore, err := vault.NewStore(config.VaultConfig{}, dir)
	require.NoError(t, err)
	sv := New(cfg, vaultStore, events.NewBus(), nil, nil, zerolog.Nop())
	t.Cleanup(sv.StopAll)

	tc, err := sv.registerHandler()(dashboard.RegisterRequest{Nickname: "dave", AccessKey: "ak", SecretKey: "sk"})
	require.NoError(t, err)
	assert.Equal(t, 24000, tc.DashboardPort)
	assert.True(t, tc.PaperMode)

	assert.Eventually(t, func() bool {
		for _, id := range sv.Tenants() {
			if id == "dave" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

// registerHandler rejects a nickname that wouldn't be a safe tenant ID,
// per spec.md §3's "IDs are filesystem-safe".
func TestRegisterHandlerRejectsUnsafeNickname(t *testing.T) {
	sv, _ := newTestSupervisor(t)
	_, err := sv.registerHandler()(dashboard.RegisterRequest{Nickname: "../etc"})
	assert.Error(t, err)
}
