package service

import (
	"context"

	"github.com/guardianshell/guardian/internal/integrity"
	"github.com/guardianshell/guardian/internal/protect"
	"github.com/guardianshell/guardian/internal/tier"
)

// TierStatus is one row of a status sweep.
type TierStatus struct {
	Name   string
	Kind   tier.Kind
	State  integrity.State
	Detail string
}

// Report is a full status sweep across the primary and every tier.
type Report struct {
	Primary    TierStatus
	Protection protect.Status
	Tiers      []TierStatus
	Baseline   string // expected digest, empty before the first build
}

// Healthy reports whether the primary verifies and protection holds.
func (r *Report) Healthy() bool {
	return r.Primary.State == integrity.Verified && r.Protection.State == protect.Protected
}

// Status verifies the primary and every configured tier against the
// recorded baseline. Tier failures are reported per tier, never
// aborting the sweep.
func (g *Guardian) Status(ctx context.Context) (*Report, error) {
	report := &Report{}

	expected, err := g.ExpectedDigest()
	if err != nil {
		report.Primary = TierStatus{Name: "primary", Kind: tier.Primary, State: integrity.Missing, Detail: err.Error()}
		return report, nil
	}
	report.Baseline = expected

	primary := integrity.Verify(g.cfg.Artifact.Primary, expected)
	report.Primary = TierStatus{
		Name:   "primary",
		Kind:   tier.Primary,
		State:  primary.State,
		Detail: detailFor(primary),
	}

	if status, err := g.enforcer.Check(g.cfg.Artifact.Primary); err == nil {
		report.Protection = status
	}

	tiers, err := g.RecoveryTiers()
	if err != nil {
		return nil, err
	}
	for _, t := range tiers {
		res, err := t.Verify(ctx, expected)
		if err != nil {
			state := integrity.Missing
			if tier.IsUntrusted(err) {
				state = integrity.Tampered
			}
			report.Tiers = append(report.Tiers, TierStatus{
				Name:   t.Name(),
				Kind:   t.Kind(),
				State:  state,
				Detail: err.Error(),
			})
			continue
		}
		report.Tiers = append(report.Tiers, TierStatus{
			Name:   t.Name(),
			Kind:   t.Kind(),
			State:  res.State,
			Detail: detailFor(res),
		})
	}

	return report, nil
}

func detailFor(res integrity.Result) string {
	if res.State == integrity.Tampered {
		return "observed digest " + res.ActualDigest
	}
	return ""
}
