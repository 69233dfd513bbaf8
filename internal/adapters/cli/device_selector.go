// Package cli holds operator-facing adapters: interactive interface
// selection and environment-driven configuration loading.
package cli

import (
	"context"
	"fmt"

	"github.com/AlecAivazis/survey/v2"
)

// SurveyDeviceSelector implements ports.DeviceSelector with an interactive
// terminal prompt. Callers should bypass it entirely when NETWORK_INTERFACE
// is already set.
type SurveyDeviceSelector struct{}

// NewSurveyDeviceSelector constructs a SurveyDeviceSelector.
func NewSurveyDeviceSelector() *SurveyDeviceSelector {
	return &SurveyDeviceSelector{}
}

// SelectInterface prompts the operator to choose among candidates. It
// returns an error if candidates is empty or the prompt is cancelled.
func (s *SurveyDeviceSelector) SelectInterface(ctx context.Context, candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", fmt.Errorf("no capture-capable interfaces found")
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}

	var chosen string
	prompt := &survey.Select{
		Message: "Select the interface to capture on:",
		Options: candidates,
	}
	if err := survey.AskOne(prompt, &chosen, survey.WithValidator(survey.Required)); err != nil {
		return "", fmt.Errorf("interface selection: %w", err)
	}
	return chosen, nil
}
