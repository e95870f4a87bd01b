// internal/ranking/tiers.go
package ranking

// Competitive tiers, ascending.
const (
	TierBronze   = "bronze"
	TierSilver   = "silver"
	TierGold     = "gold"
	TierPlatinum = "platinum"
	TierDiamond  = "diamond"
	TierMaster   = "master"
)

// tierFloors maps each tier to its minimum rating. The default rating (1000)
// lands in bronze.
var tierFloors = []struct {
	floor int
	tier  string
}{
	{1900, TierMaster},
	{1700, TierDiamond},
	{1500, TierPlatinum},
	{1300, TierGold},
	{1100, TierSilver},
}

// TierFromRating is a pure step function over the fixed thresholds; it is
// used for display and promotion detection only and never feeds back into
// the rating math.
func TierFromRating(rating int) string {
	for _, t := range tierFloors {
		if rating >= t.floor {
			return t.tier
		}
	}
	return TierBronze
}
