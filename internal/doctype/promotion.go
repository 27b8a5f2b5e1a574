package doctype

// Promotion is a document's promotion level. Promoted documents rank ahead
// of standard ones at equal relevance and their linked neighbors score
// higher during link expansion.
type Promotion string

const (
	PromotionStandard  Promotion = "standard"
	PromotionImportant Promotion = "important"
	PromotionCritical  Promotion = "critical"
)

// ParsePromotion maps a frontmatter value to a Promotion. Unknown or empty
// values report ok=false; callers default to standard.
func ParsePromotion(s string) (Promotion, bool) {
	switch Promotion(s) {
	case PromotionStandard, PromotionImportant, PromotionCritical:
		return Promotion(s), true
	}
	return PromotionStandard, false
}

// Rank orders promotion levels for sorting: critical > important > standard.
func (p Promotion) Rank() int {
	switch p {
	case PromotionCritical:
		return 2
	case PromotionImportant:
		return 1
	default:
		return 0
	}
}

// Valid reports whether p is one of the three defined levels.
func (p Promotion) Valid() bool {
	switch p {
	case PromotionStandard, PromotionImportant, PromotionCritical:
		return true
	}
	return false
}
