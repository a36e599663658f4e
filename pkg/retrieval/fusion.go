package retrieval

import (
	"sort"

	"github.com/OFFIS-RIT/medgraph/backend/pkg/common"
)

const DefaultRRFConstant = 60.0

// FusedResult is one entity of the fused ranking.
type FusedResult struct {
	Entity     common.Entity
	Score      float64
	Modalities []Modality
	Scores     map[Modality]float64
	Ranks      map[Modality]int

	bestRank int
}

func rrfComponent(rank int, weight, k float64) float64 {
	if rank <= 0 {
		return 0
	}
	return weight / (k + float64(rank))
}

// Fuse combines ranked lists with Reciprocal Rank Fusion. An entity at rank
// r of a list with weight w gains w/(k+r). Lists with a non-positive weight
// are left out entirely. Results are ordered by fused score, then by the
// best rank the entity reached in any single list, then by entity id.
// A non-positive k uses DefaultRRFConstant; topK <= 0 keeps every result.
func Fuse(lists []RankedList, k float64, topK int) []FusedResult {
	if k <= 0 {
		k = DefaultRRFConstant
	}

	byID := make(map[string]*FusedResult)
	for _, list := range lists {
		if !(list.Weight > 0) {
			continue
		}
		for _, h := range list.Hits {
			id := h.Entity.ID
			if id == "" || h.Rank <= 0 {
				continue
			}
			r, ok := byID[id]
			if !ok {
				r = &FusedResult{
					Entity: h.Entity,
					Scores: make(map[Modality]float64),
					Ranks:  make(map[Modality]int),
				}
				byID[id] = r
			}
			if prev, seen := r.Ranks[list.Modality]; seen && prev <= h.Rank {
				continue
			} else if seen {
				r.Score -= rrfComponent(prev, list.Weight, k)
			} else {
				r.Modalities = append(r.Modalities, list.Modality)
			}
			r.Ranks[list.Modality] = h.Rank
			r.Scores[list.Modality] = h.Score
			r.Score += rrfComponent(h.Rank, list.Weight, k)
			if r.bestRank == 0 || h.Rank < r.bestRank {
				r.bestRank = h.Rank
			}
		}
	}

	out := make([]FusedResult, 0, len(byID))
	for _, r := range byID {
		out = append(out, *r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].bestRank != out[j].bestRank {
			return out[i].bestRank < out[j].bestRank
		}
		return out[i].Entity.ID < out[j].Entity.ID
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}
