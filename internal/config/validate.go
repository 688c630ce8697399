package config

import "fmt"

// actionNames are the recognized top-level actions. Dispatch re-checks the
// name, but rejecting it here gives the user one consolidated report.
var actionNames = map[string]bool{
	"native": true,
	"tests":  true,
	"ci":     true,
	"monado": true,
	"clean":  true,
	"docs":   true,
}

// flowDriven actions iterate the flow list and therefore require one.
var flowDriven = map[string]bool{
	"native": true,
	"tests":  true,
	"monado": true,
	"clean":  true,
}

// buildDriven actions compile the runtime and therefore need its path.
var buildDriven = map[string]bool{
	"native": true,
	"tests":  true,
	"ci":     true,
	"monado": true,
}

// Validate checks cross-field consistency after defaults were applied. It
// collects every problem instead of stopping at the first.
func (m *Model) Validate() error {
	var problems []string
	report := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if !actionNames[m.Action.Name] {
		report("unknown action %q", m.Action.Name)
	}
	if m.Profile != "opt" && m.Profile != "dbg" {
		report("unknown profile %q (want opt or dbg)", m.Profile)
	}
	if buildDriven[m.Action.Name] {
		if m.Runtime.Path.IsZero() {
			report("action %q requires runtime.path", m.Action.Name)
		} else if err := m.Runtime.Path.Validate(); err != nil {
			report("runtime: %v", err)
		}
		if m.Common.Path.IsZero() {
			report("action %q requires common.path", m.Action.Name)
		} else if err := m.Common.Path.Validate(); err != nil {
			report("common: %v", err)
		}
	}
	if flowDriven[m.Action.Name] && len(m.Flows) == 0 {
		report("action %q requires at least one flow", m.Action.Name)
	}
	for fi, flow := range m.Flows {
		for gi, group := range flow {
			for pi, ref := range group {
				if err := ref.Path.Validate(); err != nil {
					report("flows[%d][%d][%d]: %v", fi, gi, pi, err)
				}
			}
		}
	}
	for pi, ref := range m.Append {
		if err := ref.Path.Validate(); err != nil {
			report("append[%d]: %v", pi, err)
		}
	}
	if m.Action.Name == "monado" {
		if m.Action.Monado.Path.IsZero() {
			report("monado action requires action.monado.path")
		}
		if m.Action.OpenXRApp.Path.IsZero() {
			report("monado action requires action.openxr_app.path")
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
