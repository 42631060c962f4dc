package tenant

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		TenantID:   "123456789012345678",
		AdminToken: "",
		Channels:   map[string]string{ChannelDumps: "234567890123456789"},
		Roles:      map[string]string{"dump": "345678901234567890"},
		TierRoles:  map[string]TierRole{"gold": {RoleID: "456789012345678901", Enabled: true}},
		AlertThresholds: AlertThresholds{
			MinMarginGP:          0,
			MinScore:             0,
			MaxAlertsPerInterval: 3,
		},
		PriceBrackets: PriceBrackets{CheapMax: 100000, MediumMax: 1000000, ExpensiveMax: 100000000},
	}
}

func TestValidate_AcceptsWellFormedConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_TenantIDGrammar(t *testing.T) {
	cases := map[string]bool{
		"123456789012345678":  true,  // 18 digits
		"12345678901234567":   true,  // 17 digits
		"1234567890123456789": true,  // 19 digits
		"1234567890123456":    false, // 16 digits, too short
		"12345678901234567890": false, // 20 digits, too long
		"not-a-snowflake":     false,
		"":                    false,
	}
	for id, want := range cases {
		c := validConfig()
		c.TenantID = id
		err := c.Validate()
		if want {
			assert.NoError(t, err, "tenant id %q should be valid", id)
		} else {
			assert.ErrorIs(t, err, ErrInvalidTenantID, "tenant id %q should be rejected", id)
		}
	}
}

func TestValidate_ChannelGrammar(t *testing.T) {
	c := validConfig()
	c.Channels["dumps"] = "short"
	assert.NoError(t, c.Validate(), "short alphanumeric channel ids are accepted as slugs")

	c.Channels["dumps"] = "!!!invalid!!!"
	assert.ErrorIs(t, c.Validate(), ErrInvalidChannel)
}

func TestValidate_UnknownTierRoleRejected(t *testing.T) {
	c := validConfig()
	c.TierRoles["not-a-tier"] = TierRole{Enabled: true}
	assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)
}

func TestValidate_AdminTokenGrammar(t *testing.T) {
	c := validConfig()
	c.AdminToken = "too-short"
	assert.ErrorIs(t, c.Validate(), ErrInvalidToken)

	c.AdminToken = generateToken()
	assert.NoError(t, c.Validate())
}

func TestValidate_MinScoreRange(t *testing.T) {
	c := validConfig()
	c.AlertThresholds.MinScore = -1
	assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)
	c.AlertThresholds.MinScore = 101
	assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)
	c.AlertThresholds.MinScore = 50
	assert.NoError(t, c.Validate())
}

func TestValidate_MaxAlertsPerIntervalRange(t *testing.T) {
	c := validConfig()
	c.AlertThresholds.MaxAlertsPerInterval = 0
	assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)
	c.AlertThresholds.MaxAlertsPerInterval = 11
	assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)
}

func TestValidate_PriceBracketsMustBeNonDecreasing(t *testing.T) {
	c := validConfig()
	c.PriceBrackets = PriceBrackets{CheapMax: 100, MediumMax: 50, ExpensiveMax: 1000}
	assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)
}

func TestValidateWebhook_OnlyKnownHosts(t *testing.T) {
	assert.NoError(t, ValidateWebhook("https://discord.com/api/webhooks/1/abc"))
	assert.NoError(t, ValidateWebhook("https://discordapp.com/api/webhooks/1/abc"))
	assert.ErrorIs(t, ValidateWebhook("https://evil.example/webhooks/1/abc"), ErrInvalidWebhook)
}

func TestClassifyFlipChannel_Brackets(t *testing.T) {
	c := validConfig()
	assert.Equal(t, ChannelCheapFlips, c.ClassifyFlipChannel(1000))
	assert.Equal(t, ChannelMediumFlips, c.ClassifyFlipChannel(500000))
	assert.Equal(t, ChannelExpensiveFlips, c.ClassifyFlipChannel(50000000))
	assert.Equal(t, ChannelBillionaireFlips, c.ClassifyFlipChannel(1000000000))
}

func TestStore_GetCreatesDefaultOnFirstReference(t *testing.T) {
	dir := t.TempDir()
	st, err := NewStore(dir, true)
	require.NoError(t, err)

	cfg, err := st.Get("123456789012345678")
	require.NoError(t, err)
	assert.Equal(t, "123456789012345678", cfg.TenantID)
	assert.NotEmpty(t, cfg.AdminToken)
	assert.Equal(t, 3, cfg.AlertThresholds.MaxAlertsPerInterval)

	// second Get must return the persisted doc, not mint a new token
	cfg2, err := st.Get("123456789012345678")
	require.NoError(t, err)
	assert.Equal(t, cfg.AdminToken, cfg2.AdminToken)
}

func TestStore_GetWithoutCreateIfAbsentReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	st, err := NewStore(dir, false)
	require.NoError(t, err)

	_, err = st.Get("123456789012345678")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_PutRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	st, err := NewStore(dir, true)
	require.NoError(t, err)

	bad := validConfig()
	bad.TenantID = "bad"
	err = st.Put(bad)
	assert.ErrorIs(t, err, ErrInvalidTenantID)
}

func TestStore_PutThenGetRoundTrips(t *testing.T) {
	dir := t.TempDir()
	st, err := NewStore(dir, true)
	require.NoError(t, err)

	cfg := validConfig()
	require.NoError(t, st.Put(cfg))

	got, err := st.Get(cfg.TenantID)
	require.NoError(t, err)
	assert.Equal(t, cfg.Channels, got.Channels)
	assert.Equal(t, cfg.PriceBrackets, got.PriceBrackets)
}

func TestStore_PathEscapeRejected(t *testing.T) {
	dir := t.TempDir()
	st, err := NewStore(dir, true)
	require.NoError(t, err)

	_, err = st.path("../../etc/passwd")
	assert.Error(t, err)
	var pathErr error = err
	assert.True(t, errors.Is(pathErr, ErrInvalidTenantID) || errors.Is(pathErr, ErrPathEscape))
}

func TestStore_BanUnban(t *testing.T) {
	dir := t.TempDir()
	st, err := NewStore(dir, true)
	require.NoError(t, err)

	id := "123456789012345678"
	_, err = st.Get(id)
	require.NoError(t, err)

	require.NoError(t, st.Ban(id))
	cfg, err := st.Get(id)
	require.NoError(t, err)
	assert.True(t, cfg.Banned)

	require.NoError(t, st.Unban(id))
	cfg, err = st.Get(id)
	require.NoError(t, err)
	assert.False(t, cfg.Banned)
}

func TestStore_Delete(t *testing.T) {
	dir := t.TempDir()
	st, err := NewStore(dir, true)
	require.NoError(t, err)

	id := "123456789012345678"
	require.NoError(t, st.Put(func() Config { c := validConfig(); c.TenantID = id; return c }()))
	require.NoError(t, st.Delete(id))

	_, err = st.Get(id)
	// createIfAbsent is true, so Get recreates a default doc rather than erroring
	assert.NoError(t, err)
}

func TestStore_List(t *testing.T) {
	dir := t.TempDir()
	st, err := NewStore(dir, true)
	require.NoError(t, err)

	_, err = st.Get("123456789012345678")
	require.NoError(t, err)
	_, err = st.Get("876543210987654321")
	require.NoError(t, err)

	ids, err := st.List()
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Contains(t, ids, "123456789012345678")
	assert.Contains(t, ids, "876543210987654321")
}

func TestStore_WritesAreAtomicViaTempRename(t *testing.T) {
	dir := t.TempDir()
	st, err := NewStore(dir, true)
	require.NoError(t, err)

	cfg := validConfig()
	require.NoError(t, st.Put(cfg))

	entries, err := filepathGlob(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e, ".tmp", "no leftover temp file should remain after a successful write")
	}
}

func filepathGlob(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, "*"))
}
