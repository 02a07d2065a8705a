package content

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareVersions(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, CompareVersions("6.10.0", "6.5.0"))
	assert.Equal(t, -1, CompareVersions("5.5.0", "6.0.0"))
	assert.Equal(t, 0, CompareVersions("6.0", "6.0.0"))
	assert.True(t, VersionLess(DefaultFromVersion, DefaultToVersion))
}

func TestIsStrictVersion(t *testing.T) {
	t.Parallel()

	for _, v := range []string{"0.0.0", "6.10.0", "99.99.99"} {
		assert.True(t, IsStrictVersion(v), v)
	}
	for _, v := range []string{"6.0", "6.x.0", "", "1.2.3.4", "v1.2.3", "1.-2.3"} {
		assert.False(t, IsStrictVersion(v), v)
	}
}

func TestNormalizeVersion(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "6.0.0", NormalizeVersion("6.0"))
	assert.Equal(t, "garbage", NormalizeVersion("garbage"))
	assert.Equal(t, "1.2.3", VersionFromFileName("1_2_3.md"))
}

func TestMarketplacesSubset(t *testing.T) {
	t.Parallel()

	ok, missing := MarketplacesSubset([]Marketplace{MarketplaceXSOARSaaS}, []Marketplace{MarketplaceXSOAR})
	assert.True(t, ok)
	assert.Empty(t, missing)

	ok, missing = MarketplacesSubset([]Marketplace{MarketplaceV2, MarketplaceXPANSE}, []Marketplace{MarketplaceV2})
	assert.False(t, ok)
	assert.Equal(t, []Marketplace{MarketplaceXPANSE}, missing)
}

func TestParseSupportTier(t *testing.T) {
	t.Parallel()

	tier, ok := ParseSupportTier("developer")
	assert.True(t, ok)
	assert.Equal(t, SupportCommunity, tier)

	tier, ok = ParseSupportTier("certified-partner")
	assert.True(t, ok)
	assert.Greater(t, tier.Rank(), SupportPartner.Rank())

	_, ok = ParseSupportTier("gold")
	assert.False(t, ok)
}
