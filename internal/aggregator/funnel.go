package aggregator

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"pulse/internal/metrics"
)

// FunnelStepDefinition matches one step of a funnel by event name.
type FunnelStepDefinition struct {
	Name      string `yaml:"name" json:"name"`
	EventName string `yaml:"event" json:"event"`
}

// FunnelDefinition is an ordered conversion path.
type FunnelDefinition struct {
	Name  string                 `yaml:"name" json:"name"`
	Steps []FunnelStepDefinition `yaml:"steps" json:"steps"`
}

type funnelFile struct {
	Funnels []FunnelDefinition `yaml:"funnels"`
}

// DefaultFunnels is used when no funnels file is configured.
var DefaultFunnels = []FunnelDefinition{
	{
		Name: "signup",
		Steps: []FunnelStepDefinition{
			{Name: "Visited", EventName: "page_view"},
			{Name: "Started signup", EventName: "signup_started"},
			{Name: "Completed signup", EventName: "signup_completed"},
		},
	},
}

// LoadFunnelDefinitions reads funnel definitions from a YAML file. An empty
// path or a missing file yields DefaultFunnels.
func LoadFunnelDefinitions(path string) ([]FunnelDefinition, error) {
	if path == "" {
		return DefaultFunnels, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultFunnels, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read funnels file: %w", err)
	}
	return ParseFunnelDefinitions(data)
}

// ParseFunnelDefinitions decodes and validates funnel definitions.
func ParseFunnelDefinitions(data []byte) ([]FunnelDefinition, error) {
	var file funnelFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("invalid funnels file: %w", err)
	}

	seen := make(map[string]bool)
	for _, f := range file.Funnels {
		if f.Name == "" {
			return nil, fmt.Errorf("invalid funnels file: funnel without a name")
		}
		if seen[f.Name] {
			return nil, fmt.Errorf("invalid funnels file: duplicate funnel %q", f.Name)
		}
		seen[f.Name] = true
		if len(f.Steps) == 0 {
			return nil, fmt.Errorf("invalid funnels file: funnel %q has no steps", f.Name)
		}
		for i, step := range f.Steps {
			if step.EventName == "" {
				return nil, fmt.Errorf("invalid funnels file: funnel %q step %d has no event", f.Name, i+1)
			}
		}
	}
	return file.Funnels, nil
}

// FunnelStep is one step of a computed funnel.
type FunnelStep struct {
	StepNumber      int      `json:"step_number"`
	StepName        string   `json:"step_name"`
	SessionsReached int64    `json:"sessions_reached"`
	ConversionRate  *float64 `json:"conversion_rate"`
}

// MatchedSteps returns how many leading steps of def a session satisfies.
// Each step must be matched by an event after the one that matched the
// previous step; the earliest candidate is always taken.
func MatchedSteps(eventNames []string, def FunnelDefinition) int {
	matched := 0
	for _, name := range eventNames {
		if matched == len(def.Steps) {
			break
		}
		if name == def.Steps[matched].EventName {
			matched++
		}
	}
	return matched
}

// ComputeFunnel counts, for every step, the sessions whose event sequence
// satisfies all steps up to it.
func ComputeFunnel(sessions []Session, def FunnelDefinition) []FunnelStep {
	reached := make([]int64, len(def.Steps))
	for _, s := range sessions {
		matched := MatchedSteps(s.EventNames, def)
		for k := 0; k < matched; k++ {
			reached[k]++
		}
	}
	return BuildFunnelSteps(def, reached)
}

// BuildFunnelSteps attaches names and conversion rates to per-step counts.
func BuildFunnelSteps(def FunnelDefinition, reached []int64) []FunnelStep {
	steps := make([]FunnelStep, len(def.Steps))
	for k, stepDef := range def.Steps {
		name := stepDef.Name
		if name == "" {
			name = stepDef.EventName
		}
		steps[k] = FunnelStep{
			StepNumber:      k + 1,
			StepName:        name,
			SessionsReached: reached[k],
		}
		if k > 0 {
			rate := metrics.ConversionRate(reached[k-1], reached[k])
			steps[k].ConversionRate = &rate
		}
	}
	return steps
}
