package flow

// Step identifies one stage of the onboarding flow. Ordering is never derived
// from the token text; it always comes from the sequence BuildFlow returns.
type Step string

const (
	StepPreQualification Step = "prequalification"
	StepApplicationForm  Step = "application_form"
	StepPolicies         Step = "policies"
	StepConsents         Step = "consents"
	StepAppraisal        Step = "appraisal"
	StepFlatbedTraining  Step = "flatbed_training"
	StepSummary          Step = "summary"
)

// ParseStep maps a URL token onto a known step.
func ParseStep(s string) (Step, bool) {
	switch Step(s) {
	case StepPreQualification, StepApplicationForm, StepPolicies,
		StepConsents, StepAppraisal, StepFlatbedTraining, StepSummary:
		return Step(s), true
	}
	return "", false
}

// Profile is the subset of a tracker that shapes its flow.
type Profile struct {
	CompanyID            string
	ApplicationType      string
	NeedsFlatbedTraining bool
}

// Status is the mutable progress record carried by a tracker. CompletedSteps
// is kept contiguous in flow order.
type Status struct {
	CurrentStep    Step   `json:"current_step"`
	CompletedSteps []Step `json:"completed_steps"`
	Completed      bool   `json:"completed"`
}

// BuildFlow returns the ordered step sequence for a profile. The flatbed
// training step is genuinely absent when not required, not skipped-in-place.
func BuildFlow(profile Profile) []Step {
	steps := []Step{
		StepPreQualification,
		StepApplicationForm,
		StepPolicies,
		StepConsents,
		StepAppraisal,
	}
	if profile.NeedsFlatbedTraining {
		steps = append(steps, StepFlatbedTraining)
	}
	return append(steps, StepSummary)
}

func indexOf(steps []Step, step Step) int {
	for i, s := range steps {
		if s == step {
			return i
		}
	}
	return -1
}

// NextStep returns the step after the given one, or false when step is
// terminal or absent.
func NextStep(profile Profile, step Step) (Step, bool) {
	steps := BuildFlow(profile)
	idx := indexOf(steps, step)
	if idx < 0 || idx+1 >= len(steps) {
		return "", false
	}
	return steps[idx+1], true
}

// HasReachedStep reports whether the status' current step is at or past the
// given step in this profile's flow. Steps outside the flow are unreachable.
func HasReachedStep(profile Profile, status Status, step Step) bool {
	steps := BuildFlow(profile)
	stepIdx := indexOf(steps, step)
	if stepIdx < 0 {
		return false
	}
	return indexOf(steps, status.CurrentStep) >= stepIdx
}

// HasCompletedStep reports whether a step has been finished, either because
// it is recorded as completed or because progress moved strictly past it.
func HasCompletedStep(profile Profile, status Status, step Step) bool {
	for _, s := range status.CompletedSteps {
		if s == step {
			return true
		}
	}
	steps := BuildFlow(profile)
	stepIdx := indexOf(steps, step)
	if stepIdx < 0 {
		return false
	}
	return indexOf(steps, status.CurrentStep) > stepIdx
}

// AdvanceProgress moves the status toward step, never backwards. Repeated or
// out-of-order calls converge on the furthest-advanced state, so retries and
// double submissions are harmless. A step absent from the flow is a no-op.
func AdvanceProgress(profile Profile, status Status, step Step) Status {
	steps := BuildFlow(profile)
	targetIdx := indexOf(steps, step)
	if targetIdx < 0 {
		return status
	}

	currentIdx := indexOf(steps, status.CurrentStep)
	newIdx := currentIdx
	if targetIdx > newIdx {
		newIdx = targetIdx
	}

	completed := make(map[Step]bool, len(status.CompletedSteps))
	for _, s := range status.CompletedSteps {
		completed[s] = true
	}
	for i := 0; i <= targetIdx; i++ {
		completed[steps[i]] = true
	}

	// Rebuild in flow order so the set stays contiguous and stable.
	ordered := make([]Step, 0, len(completed))
	for _, s := range steps {
		if completed[s] {
			ordered = append(ordered, s)
		}
	}

	next := Status{
		CurrentStep:    steps[newIdx],
		CompletedSteps: ordered,
		Completed:      status.Completed,
	}
	if step == steps[len(steps)-1] {
		next.Completed = true
	}
	return next
}
