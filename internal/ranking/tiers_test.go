// internal/ranking/tiers_test.go
package ranking

import "testing"

func TestTierFromRating(t *testing.T) {
	cases := []struct {
		rating int
		tier   string
	}{
		{0, TierBronze},
		{1000, TierBronze},
		{1099, TierBronze},
		{1100, TierSilver},
		{1299, TierSilver},
		{1300, TierGold},
		{1500, TierPlatinum},
		{1700, TierDiamond},
		{1899, TierDiamond},
		{1900, TierMaster},
		{3000, TierMaster},
	}
	for _, c := range cases {
		if got := TierFromRating(c.rating); got != c.tier {
			t.Errorf("TierFromRating(%d) = %s, want %s", c.rating, got, c.tier)
		}
	}
}

func TestTierPromotionBoundary(t *testing.T) {
	// A winner crossing 1100 with a +25 delta is a promotion; the same delta
	// inside a band is not.
	if TierFromRating(1090) == TierFromRating(1090+25) {
		t.Fatal("expected 1090 -> 1115 to cross into silver")
	}
	if TierFromRating(1000) != TierFromRating(1000+25) {
		t.Fatal("expected 1000 -> 1025 to stay bronze")
	}
}
