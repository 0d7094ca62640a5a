package checkpoint

import "github.com/lamim/optiforge/pkg/models"

// phaseSteps are the transitions counted towards progress
const phaseSteps = 4

// CompletedSteps returns how many of prepare, execute, validate and end are done
func CompletedSteps(opt *models.Optimization) int {
	if opt.Ended() {
		return phaseSteps
	}
	done := 0
	for _, set := range []bool{opt.PreparedAt != nil, opt.ExecutedAt != nil, opt.ValidatedAt != nil} {
		if !set {
			break
		}
		done++
	}
	return done
}

// Progress returns the completion percentage of an optimization
func Progress(opt *models.Optimization) float64 {
	return float64(CompletedSteps(opt)) / float64(phaseSteps) * 100.0
}
