// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package judge

import (
	"math"
	"sort"

	"github.com/teradata-labs/crucible/pkg/types"
)

const (
	eloInitialRating = 1000.0
	eloBaseK         = 32.0
)

// EloCalculator folds pairwise outcomes into per-document ratings. Updates
// are applied strictly in the order results arrive, so standings are a
// deterministic function of the result sequence.
type EloCalculator struct {
	ratings map[string]*types.EloRating
	games   map[string]int

	// dynamicK shrinks the K factor as a document accumulates games,
	// damping late swings.
	dynamicK bool
}

// NewEloCalculator creates a calculator. With dynamicK each document's K
// factor decays with its game count instead of staying fixed.
func NewEloCalculator(dynamicK bool) *EloCalculator {
	return &EloCalculator{
		ratings:  make(map[string]*types.EloRating),
		games:    make(map[string]int),
		dynamicK: dynamicK,
	}
}

func (c *EloCalculator) rating(docID string) *types.EloRating {
	r, ok := c.ratings[docID]
	if !ok {
		r = &types.EloRating{Rating: eloInitialRating}
		c.ratings[docID] = r
	}
	return r
}

func (c *EloCalculator) kFactor(docID string) float64 {
	if !c.dynamicK {
		return eloBaseK
	}
	return eloBaseK / (1 + float64(c.games[docID])/10)
}

// Record applies one game outcome.
func (c *EloCalculator) Record(result types.PairwiseResult) {
	a := c.rating(result.DocIDA)
	b := c.rating(result.DocIDB)

	expectedA := 1 / (1 + math.Pow(10, (b.Rating-a.Rating)/400))
	expectedB := 1 - expectedA

	scoreA := 0.0
	if result.WinnerDocID == result.DocIDA {
		scoreA = 1.0
	}
	scoreB := 1 - scoreA

	a.Rating += c.kFactor(result.DocIDA) * (scoreA - expectedA)
	b.Rating += c.kFactor(result.DocIDB) * (scoreB - expectedB)

	if scoreA == 1 {
		a.Wins++
		b.Losses++
	} else {
		b.Wins++
		a.Losses++
	}
	c.games[result.DocIDA]++
	c.games[result.DocIDB]++
}

// Ratings returns a copy of the current standings.
func (c *EloCalculator) Ratings() map[string]types.EloRating {
	out := make(map[string]types.EloRating, len(c.ratings))
	for id, r := range c.ratings {
		out[id] = *r
	}
	return out
}

// RankByRating orders document IDs best-first from a standings map, with
// the same tie-breaks as Winner.
func RankByRating(ratings map[string]types.EloRating) []string {
	ids := make([]string, 0, len(ratings))
	for id := range ratings {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := ratings[ids[i]], ratings[ids[j]]
		if a.Rating != b.Rating {
			return a.Rating > b.Rating
		}
		if a.Wins != b.Wins {
			return a.Wins > b.Wins
		}
		if a.Losses != b.Losses {
			return a.Losses < b.Losses
		}
		return ids[i] < ids[j]
	})
	return ids
}

// Winner returns the top-ranked document ID. Ties break on rating, then
// wins descending, then losses ascending, then lexicographic doc ID, so the
// answer never depends on map iteration order.
func (c *EloCalculator) Winner() string {
	ids := make([]string, 0, len(c.ratings))
	for id := range c.ratings {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return ""
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := c.ratings[ids[i]], c.ratings[ids[j]]
		if a.Rating != b.Rating {
			return a.Rating > b.Rating
		}
		if a.Wins != b.Wins {
			return a.Wins > b.Wins
		}
		if a.Losses != b.Losses {
			return a.Losses < b.Losses
		}
		return ids[i] < ids[j]
	})
	return ids[0]
}
