// Package action maps the configured action name to its orchestration
// routine. Actions are mutually exclusive terminal routines: one is
// selected per invocation and there are no transitions between them.
package action

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/illixr/runner/internal/flow"
)

// Routine is one top-level action implementation.
type Routine func(ctx context.Context, p *flow.Processor) error

var routines = map[string]Routine{
	"native": Native,
	"tests":  Tests,
	"ci":     CI,
	"monado": Monado,
	"clean":  Clean,
	"docs":   Docs,
}

// UnknownActionError reports an unrecognized action name.
type UnknownActionError struct {
	Name  string
	Known []string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("no such action %q (known: %s)", e.Name, strings.Join(e.Known, ", "))
}

// Dispatch runs the routine registered under name.
func Dispatch(ctx context.Context, name string, p *flow.Processor) error {
	routine, ok := routines[name]
	if !ok {
		return &UnknownActionError{Name: name, Known: Names()}
	}
	return routine(ctx, p)
}

// Names lists the registered actions, sorted.
func Names() []string {
	names := make([]string, 0, len(routines))
	for name := range routines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
