package yamlcfg

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illixr/runner/internal/hclcfg"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const fullConfig = `
profile: dbg
action:
  name: native
  command: "$env_cmd"
  log_stdout: flows.log
  run_duration: 30
  kimera_path: /opt/kimera
runtime:
  path: runtime
  config:
    RUNTIME_FLAG: "1"
common:
  path: common
flows:
  - flow:
      - plugin_group:
          - path: plugins/slam
            name: slam
            config:
              USE_GPU: "yes"
          - path: plugins/timewarp
      - plugin_group:
          - path:
              zip_archive: https://example.com/audio.zip
append:
  plugin_group:
    - path: plugins/logger
data:
  download_url: https://example.com/data.tgz
demo_data: demo_data
enable_offload: true
enable_verbose_errors: true
`

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, "cfg.yaml", fullConfig)
	model, err := NewLoader().Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "dbg", model.Profile)
	assert.Equal(t, "native", model.Action.Name)
	assert.Equal(t, 30, model.Action.RunDuration)
	require.Len(t, model.Flows, 1)
	require.Len(t, model.Flows[0], 2)
	assert.Equal(t, "slam", model.Flows[0][0][0].Name)
	assert.Equal(t, "https://example.com/audio.zip", model.Flows[0][1][0].Path.ZipArchive)
	require.Len(t, model.Append, 1)
	assert.True(t, model.EnableOffload)
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := writeConfig(t, "typo.yaml", `
action:
  name: native
profle: opt
`)
	_, err := NewLoader().Load(context.Background(), path)
	assert.Error(t, err)
}

func TestLoadRejectsBadLocation(t *testing.T) {
	path := writeConfig(t, "bad.yaml", `
action:
  name: native
runtime:
  path:
    git_repo: x
    zip_archive: y
`)
	_, err := NewLoader().Load(context.Background(), path)
	require.Error(t, err)
	assert.ErrorContains(t, err, "more than one reference form")
}

// The same logical configuration expressed in both syntaxes must decode to
// the identical model.
func TestEquivalentToHCL(t *testing.T) {
	yamlPath := writeConfig(t, "cfg.yaml", fullConfig)
	yamlModel, err := NewLoader().Load(context.Background(), yamlPath)
	require.NoError(t, err)

	hclPath := writeConfig(t, "cfg.hcl", `
profile = "dbg"
action {
  name         = "native"
  command      = "$env_cmd"
  log_stdout   = "flows.log"
  run_duration = 30
  kimera_path  = "/opt/kimera"
}
runtime {
  path   = "runtime"
  config = { RUNTIME_FLAG = "1" }
}
common { path = "common" }
flow {
  plugin_group {
    plugin {
      path   = "plugins/slam"
      name   = "slam"
      config = { USE_GPU = "yes" }
    }
    plugin { path = "plugins/timewarp" }
  }
  plugin_group {
    plugin { path = { zip_archive = "https://example.com/audio.zip" } }
  }
}
append {
  plugin { path = "plugins/logger" }
}
data      = { download_url = "https://example.com/data.tgz" }
demo_data = "demo_data"
enable_offload        = true
enable_verbose_errors = true
`)
	hclModel, err := hclcfg.NewLoader().Load(context.Background(), hclPath)
	require.NoError(t, err)

	assert.Equal(t, hclModel, yamlModel)
}
