// Package selector filters catalog candidates and picks the one to publish.
//
// Filters run in a fixed order: already posted, cloud cover, age, coastal
// membership. Survivors are ordered by lowest cloud cover, then most recent
// acquisition, then smallest id, so the same inputs always yield the same pick.
package selector

import (
	"math"
	"sort"
	"time"

	"S2CoastalBot/internal/domain"
)

// Criteria are the thresholds a candidate must meet.
type Criteria struct {
	MaxCloudCover float64
	// MinRecency is the maximum age of an acquisition, measured from Now.
	MinRecency time.Duration
	Now        time.Time
	// IsCoastal, when set, must accept the candidate's tile.
	IsCoastal func(tileID string) bool
}

// Reason explains why a candidate was dropped.
type Reason string

const (
	ReasonPosted     Reason = "posted"
	ReasonCloudy     Reason = "cloud_cover"
	ReasonTooOld     Reason = "too_old"
	ReasonFuture     Reason = "future"
	ReasonNotCoastal Reason = "not_coastal"
)

// Report counts rejected candidates per reason.
type Report map[Reason]int

// Select returns the best candidate, or false when nothing qualifies.
func Select(candidates []domain.Candidate, posted map[string]bool, criteria Criteria) (domain.Candidate, bool) {
	ranked, _ := Rank(candidates, posted, criteria)
	if len(ranked) == 0 {
		return domain.Candidate{}, false
	}
	return ranked[0], true
}

// Rank returns every qualifying candidate, best first, along with the
// rejection counts. The input slice is not modified.
func Rank(candidates []domain.Candidate, posted map[string]bool, criteria Criteria) ([]domain.Candidate, Report) {
	report := Report{}
	survivors := make([]domain.Candidate, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))

	for _, c := range candidates {
		if reason, ok := reject(c, posted, criteria); ok {
			report[reason]++
			continue
		}
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		survivors = append(survivors, c)
	}

	sort.SliceStable(survivors, func(i, j int) bool {
		return less(survivors[i], survivors[j])
	})
	return survivors, report
}

func reject(c domain.Candidate, posted map[string]bool, criteria Criteria) (Reason, bool) {
	if posted[c.ID] {
		return ReasonPosted, true
	}
	if math.IsNaN(c.CloudCover) || c.CloudCover < 0 || c.CloudCover > 100 || c.CloudCover > criteria.MaxCloudCover {
		return ReasonCloudy, true
	}
	age := c.Age(criteria.Now)
	if age < 0 {
		return ReasonFuture, true
	}
	if age > criteria.MinRecency {
		return ReasonTooOld, true
	}
	if criteria.IsCoastal != nil && !criteria.IsCoastal(c.TileID) {
		return ReasonNotCoastal, true
	}
	return "", false
}

func less(a, b domain.Candidate) bool {
	if a.CloudCover != b.CloudCover {
		return a.CloudCover < b.CloudCover
	}
	if !a.AcquiredAt.Equal(b.AcquiredAt) {
		return a.AcquiredAt.After(b.AcquiredAt)
	}
	return a.ID < b.ID
}
