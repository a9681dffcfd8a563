package risk

import (
	"time"

	"github.com/mbd888/swapgate/internal/sanctions"
	"github.com/mbd888/swapgate/internal/telemetry"
)

// Scorer applies the rule table with a configured approval cutoff.
type Scorer struct {
	Cutoff int
}

// NewScorer returns a scorer with the given cutoff, or DefaultCutoff when
// cutoff is outside [MinScore, MaxScore].
func NewScorer(cutoff int) Scorer {
	if cutoff < MinScore || cutoff > MaxScore {
		cutoff = DefaultCutoff
	}
	return Scorer{Cutoff: cutoff}
}

// Score evaluates rec and intent. It has no side effects: identical inputs
// produce identical assessments. id and at stamp the result.
func (s Scorer) Score(rec *telemetry.Record, intent *Intent, screening sanctions.Result, id string, at time.Time) *Assessment {
	a := &Assessment{
		ID:          id,
		Actor:       intent.Actor,
		ServiceID:   intent.ServiceID,
		EvaluatedAt: at,
		Flags:       []Flag{},
	}

	if screening == sanctions.ResultHit {
		a.Score = MinScore
		a.Tier = TierHigh
		a.Flags = []Flag{FlagSanctionsHit}
		return a
	}

	if rec == nil {
		rec = &telemetry.Record{Activity: telemetry.ActivityUnknown, Degraded: true}
	}
	f := &facts{
		rec:        rec,
		intent:     intent,
		screening:  screening,
		lowBalance: rec.BalanceOrZero().Cmp(DustBalance) < 0,
		noActivity: rec.Activity <= 0,
	}

	score := Baseline
	for _, r := range rules {
		delta, ok := r.delta(f)
		if !ok {
			continue
		}
		score += delta
		if r.flag != "" {
			a.Flags = append(a.Flags, r.flag)
		}
	}
	a.Score = max(MinScore, min(MaxScore, score))
	a.Approved = a.Score >= s.Cutoff

	switch {
	case a.Approved && rec.IsContract:
		a.Tier = TierInstitutionalLow
	case a.Score >= TierLowMin:
		a.Tier = TierLow
	case a.Score >= TierMediumMin:
		a.Tier = TierMedium
	default:
		a.Tier = TierHigh
	}

	return a
}
