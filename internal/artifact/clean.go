package artifact

// CleanPlan splits recorded artifacts by whether removal needs confirmation.
type CleanPlan struct {
	// Safe artifacts still match their record, or are orphaned records.
	Safe []CheckResult
	// Drifted artifacts were edited by hand and are only removed after an
	// explicit confirmation.
	Drifted []CheckResult
}

// PlanClean scans root and classifies every recorded artifact.
func (g *Guard) PlanClean(root string) (CleanPlan, error) {
	results, err := g.Scan(root)
	if err != nil {
		return CleanPlan{}, err
	}
	var plan CleanPlan
	for _, r := range results {
		switch r.State {
		case StateClean, StateOrphaned:
			plan.Safe = append(plan.Safe, r)
		case StateDrifted, StateUntracked:
			plan.Drifted = append(plan.Drifted, r)
		}
	}
	return plan, nil
}

// Clean removes the safe artifacts of plan and, when confirmed, the drifted
// ones too. It returns the number of artifacts removed.
func (g *Guard) Clean(plan CleanPlan, confirmDrifted bool) (int, error) {
	removed := 0
	targets := plan.Safe
	if confirmDrifted {
		targets = append(append([]CheckResult(nil), plan.Safe...), plan.Drifted...)
	} else if len(plan.Drifted) > 0 {
		g.log.Warnf("Keeping %d manually edited artifact(s); confirm to remove them", len(plan.Drifted))
	}
	for _, r := range targets {
		if err := g.Remove(r.Path); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
