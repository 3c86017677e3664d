package flow

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildFlowTrainingInclusion(t *testing.T) {
	withTraining := BuildFlow(Profile{NeedsFlatbedTraining: true})
	assert.Contains(t, withTraining, StepFlatbedTraining)
	assert.Equal(t, StepSummary, withTraining[len(withTraining)-1])

	withoutTraining := BuildFlow(Profile{NeedsFlatbedTraining: false})
	assert.NotContains(t, withoutTraining, StepFlatbedTraining)
	assert.Equal(t, StepSummary, withoutTraining[len(withoutTraining)-1])
	assert.Len(t, withTraining, len(withoutTraining)+1)
}

func TestBuildFlowIsDeterministic(t *testing.T) {
	p := Profile{CompanyID: "acme", ApplicationType: "company_driver", NeedsFlatbedTraining: true}
	assert.Equal(t, BuildFlow(p), BuildFlow(p))
}

func TestNextStep(t *testing.T) {
	p := Profile{NeedsFlatbedTraining: true}

	next, ok := NextStep(p, StepAppraisal)
	require.True(t, ok)
	assert.Equal(t, StepFlatbedTraining, next)

	next, ok = NextStep(Profile{}, StepAppraisal)
	require.True(t, ok)
	assert.Equal(t, StepSummary, next)

	_, ok = NextStep(p, StepSummary)
	assert.False(t, ok)

	_, ok = NextStep(Profile{}, StepFlatbedTraining)
	assert.False(t, ok)
}

func TestHasReachedStep(t *testing.T) {
	p := Profile{}
	status := Status{CurrentStep: StepPolicies}

	assert.True(t, HasReachedStep(p, status, StepPreQualification))
	assert.True(t, HasReachedStep(p, status, StepPolicies))
	assert.False(t, HasReachedStep(p, status, StepConsents))

	// A step absent from this profile's flow is never reachable.
	assert.False(t, HasReachedStep(p, status, StepFlatbedTraining))
}

func TestHasCompletedStep(t *testing.T) {
	p := Profile{}
	status := Status{
		CurrentStep:    StepPolicies,
		CompletedSteps: []Step{StepPreQualification, StepApplicationForm, StepPolicies},
	}

	assert.True(t, HasCompletedStep(p, status, StepApplicationForm))
	assert.True(t, HasCompletedStep(p, status, StepPolicies))
	assert.False(t, HasCompletedStep(p, status, StepConsents))

	// Moving strictly past a step implies completing it even when the
	// completed set is missing it.
	sparse := Status{CurrentStep: StepConsents}
	assert.True(t, HasCompletedStep(p, sparse, StepPolicies))
}

func TestAdvanceProgressNeverRegresses(t *testing.T) {
	p := Profile{NeedsFlatbedTraining: true}
	status := Status{CurrentStep: StepAppraisal, CompletedSteps: []Step{
		StepPreQualification, StepApplicationForm, StepPolicies, StepConsents, StepAppraisal,
	}}

	advanced := AdvanceProgress(p, status, StepApplicationForm)
	assert.Equal(t, StepAppraisal, advanced.CurrentStep)
	assert.False(t, advanced.Completed)
}

func TestAdvanceProgressKeepsCompletedContiguous(t *testing.T) {
	p := Profile{}
	status := Status{CurrentStep: StepPreQualification}

	advanced := AdvanceProgress(p, status, StepConsents)
	assert.Equal(t, StepConsents, advanced.CurrentStep)
	assert.Equal(t, []Step{StepPreQualification, StepApplicationForm, StepPolicies, StepConsents},
		advanced.CompletedSteps)
}

func TestAdvanceProgressTerminalSetsCompleted(t *testing.T) {
	p := Profile{}
	status := Status{CurrentStep: StepAppraisal}

	advanced := AdvanceProgress(p, status, StepSummary)
	assert.True(t, advanced.Completed)
	assert.Equal(t, StepSummary, advanced.CurrentStep)
}

func TestAdvanceProgressUnknownStepIsNoOp(t *testing.T) {
	p := Profile{} // no flatbed training in this flow
	status := Status{CurrentStep: StepPolicies, CompletedSteps: []Step{StepPreQualification}}

	advanced := AdvanceProgress(p, status, StepFlatbedTraining)
	assert.Equal(t, status, advanced)
}

func TestAdvanceProgressMonotoneUnderRandomSequences(t *testing.T) {
	for _, profile := range []Profile{{NeedsFlatbedTraining: false}, {NeedsFlatbedTraining: true}} {
		steps := BuildFlow(profile)
		rng := rand.New(rand.NewSource(42))

		status := Status{CurrentStep: steps[0]}
		lastIdx := 0
		for i := 0; i < 200; i++ {
			target := steps[rng.Intn(len(steps))]
			status = AdvanceProgress(profile, status, target)

			idx := -1
			for j, s := range steps {
				if s == status.CurrentStep {
					idx = j
				}
			}
			require.GreaterOrEqual(t, idx, lastIdx)
			lastIdx = idx
		}
	}
}
