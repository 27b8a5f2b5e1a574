package retrieval

import (
	"math"

	"github.com/compoundkb/compoundmcp/internal/doctype"
)

// Link score shape: a direct neighbor of a seed starts at linkBase and
// each further hop decays by linkDepthDecay. Promotion multiplies the
// result, and convergence (multiple seeds linking the same document)
// adds a small bonus per extra seed up to convergenceCap.
const (
	linkBase        = 0.8
	linkDepthDecay  = 0.9
	convergenceStep = 0.05
	convergenceCap  = 0.2
)

// LinkScore scores a document reached through link expansion. depth is
// the BFS depth (1 = direct neighbor), seedLinks the number of distinct
// seeds whose frontiers reached it. The result is clamped to [0, 1].
func LinkScore(depth int, promotion string, seedLinks int) float64 {
	if depth < 1 {
		depth = 1
	}
	if seedLinks < 1 {
		seedLinks = 1
	}
	score := linkBase * math.Pow(linkDepthDecay, float64(depth-1))
	score *= promotionMultiplier(promotion)
	score *= 1 + math.Min(convergenceCap, convergenceStep*float64(seedLinks-1))
	return math.Min(1, math.Max(0, score))
}

func promotionMultiplier(promotion string) float64 {
	level, _ := doctype.ParsePromotion(promotion)
	switch level {
	case doctype.PromotionCritical:
		return 1.3
	case doctype.PromotionImportant:
		return 1.15
	default:
		return 1.0
	}
}
