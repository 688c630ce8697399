package action

import (
	"context"
	"os"
	"path/filepath"

	"github.com/illixr/runner/internal/flow"
	"github.com/illixr/runner/internal/proc"
)

// Docs generates the documentation site by delegating to doxygen and
// mkdocs. Their output streams pass through untouched.
func Docs(ctx context.Context, p *flow.Processor) error {
	for _, dir := range []string{filepath.Join("site", "api"), filepath.Join("site", "docs")} {
		if err := os.MkdirAll(filepath.Join(p.Root, dir), 0o755); err != nil {
			return err
		}
	}
	if err := p.Runner.Run(ctx, []string{"doxygen", "doxygen.conf"}, proc.Options{Check: true}); err != nil {
		return err
	}
	return p.Runner.Run(ctx, []string{"python3", "-m", "mkdocs", "build"}, proc.Options{Check: true})
}
