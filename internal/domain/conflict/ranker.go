package conflict

import "sort"

// DefaultAutoResolveThreshold is the confidence a top-ranked candidate must
// reach before the executor may apply it without a human in the loop.
const DefaultAutoResolveThreshold = 80

// Rank orders resolutions in place: confidence descending, ties broken by
// patient satisfaction impact descending, then by revenue impact descending
// so revenue-positive outcomes win among otherwise equal candidates.
func Rank(rs []Resolution) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].Confidence != rs[j].Confidence {
			return rs[i].Confidence > rs[j].Confidence
		}
		if rs[i].SatisfactionImpact != rs[j].SatisfactionImpact {
			return rs[i].SatisfactionImpact > rs[j].SatisfactionImpact
		}
		return rs[i].RevenueImpactCents > rs[j].RevenueImpactCents
	})
}

// AutoResolvable reports whether any candidate belongs to a non-destructive
// type. Destructive types never qualify for autonomous action regardless of
// confidence.
func AutoResolvable(rs []Resolution) bool {
	for _, r := range rs {
		if r.Type.NonDestructive() {
			return true
		}
	}
	return false
}

// Policy decides whether a conflict is eligible for automatic application.
type Policy struct {
	Threshold int
}

// DefaultPolicy returns a policy with the default confidence threshold.
func DefaultPolicy() Policy {
	return Policy{Threshold: DefaultAutoResolveThreshold}
}

// Eligible reports whether the executor may act on the conflict without a
// human choice: it must be auto-resolvable and its best non-destructive
// candidate must clear the confidence threshold.
func (p Policy) Eligible(c *Conflict) bool {
	if !c.AutoResolvable {
		return false
	}
	top := c.TopAutoCandidate()
	return top != nil && top.Confidence >= p.Threshold
}
