package action

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/illixr/runner/internal/ctxlog"
	"github.com/illixr/runner/internal/flow"
	"github.com/illixr/runner/internal/proc"
)

// monadoSwitches disables every Monado hardware driver the integrated
// runtime does not use; the values are fixed by the integration.
var monadoSwitches = map[string]string{
	"BUILD_WITH_LIBUDEV": "0",
	"BUILD_WITH_LIBUVC":  "0",
	"BUILD_WITH_LIBUSB":  "0",
	"BUILD_WITH_NS":      "0",
	"BUILD_WITH_PSMV":    "0",
	"BUILD_WITH_PSVR":    "0",
	"BUILD_WITH_OPENHMD": "0",
	"BUILD_WITH_VIVE":    "0",
}

// Monado builds Monado and the OpenXR demo app against the runtime built
// as a shared object, then launches the demo app once per flow with the
// flow's plugins exposed through ILLIXR_COMP.
func Monado(ctx context.Context, p *flow.Processor) error {
	logger := ctxlog.FromContext(ctx)
	act := &p.Model.Action

	cmakeProfile := "Release"
	if p.Model.Profile == "dbg" {
		cmakeProfile = "Debug"
	}

	runtimeDir, err := p.Cache.Resolve(ctx, p.Model.Runtime.Path, resolveAll)
	if err != nil {
		return err
	}
	monadoDir, err := p.Cache.Resolve(ctx, act.Monado.Path, resolveAll)
	if err != nil {
		return err
	}
	appDir, err := p.Cache.Resolve(ctx, act.OpenXRApp.Path, resolveAll)
	if err != nil {
		return err
	}

	monadoVars := map[string]string{
		"CMAKE_BUILD_TYPE": cmakeProfile,
		"ILLIXR_PATH":      runtimeDir,
	}
	for k, v := range monadoSwitches {
		monadoVars[k] = v
	}
	for k, v := range act.Monado.Config {
		monadoVars[k] = v
	}
	if err := p.Invoker.CMake(ctx, monadoDir, filepath.Join(monadoDir, "build"), monadoVars, nil); err != nil {
		return err
	}

	appVars := map[string]string{"CMAKE_BUILD_TYPE": cmakeProfile}
	for k, v := range act.OpenXRApp.Config {
		appVars[k] = v
	}
	if err := p.Invoker.CMake(ctx, appDir, filepath.Join(appDir, "build"), appVars, nil); err != nil {
		return err
	}

	runtimeSo, err := p.BuildRuntime(ctx, "so", false)
	if err != nil {
		return err
	}
	logger.Debug("Monado components built.", "runtime_so", runtimeSo)

	baseEnv, err := p.Environment(ctx, flow.Options{
		RunDuration: act.RunDuration,
		PreSleep:    p.Model.EnablePreSleep,
	})
	if err != nil {
		return err
	}

	for i, f := range p.Model.Flows {
		refs := p.Model.FlowPlugins(f)
		flowLogger := logger.With("flow", i)
		flowLogger.Info("▶️ Processing flow.", "plugins", len(refs))

		artifacts, err := p.BuildAll(ctx, refs, false)
		if err != nil {
			return err
		}

		env := make(map[string]string, len(baseEnv)+3)
		for k, v := range baseEnv {
			env[k] = v
		}
		env["XR_RUNTIME_JSON"] = filepath.Join(monadoDir, "build", "openxr_monado-dev.json")
		env["ILLIXR_PATH"] = runtimeSo
		env["ILLIXR_COMP"] = strings.Join(artifacts, ":")

		argv := []string{filepath.Join(appDir, "build", "openxr-example")}
		if err := p.Runner.Run(ctx, argv, proc.Options{Env: env, Check: true}); err != nil {
			return err
		}
		flowLogger.Info("✅ Flow finished.")
	}
	return nil
}
