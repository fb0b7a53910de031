package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Step is a wizard position. Values are totally ordered so that the later of
// two steps is well defined.
type Step int

const (
	StepLanguage Step = iota
	StepIntent
	StepEmployer
	StepProduct
	StepAccount
	StepForm
	StepSummary
	StepCompleted
)

var stepNames = [...]string{
	StepLanguage:  "language",
	StepIntent:    "intent",
	StepEmployer:  "employer",
	StepProduct:   "product",
	StepAccount:   "account",
	StepForm:      "form",
	StepSummary:   "summary",
	StepCompleted: "completed",
}

func (s Step) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Step(%d)", int(s))
	}
	return stepNames[s]
}

func (s Step) Valid() bool {
	return s >= StepLanguage && s <= StepCompleted
}

// ParseStep maps a step name to its ordinal.
func ParseStep(name string) (Step, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range stepNames {
		if n == name {
			return Step(i), nil
		}
	}
	return StepLanguage, fmt.Errorf("unknown step %q", name)
}

// MaxStep returns the later of two steps.
func MaxStep(a, b Step) Step {
	if b > a {
		return b
	}
	return a
}

func (s Step) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid step %d", int(s))
	}
	return json.Marshal(s.String())
}

func (s *Step) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("step must be a string: %w", err)
	}
	parsed, err := ParseStep(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
