// Package yamlcfg is the YAML implementation of config.Loader. Its schema
// matches the configuration files the tool historically shipped with.
package yamlcfg

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/illixr/runner/internal/config"
	"github.com/illixr/runner/internal/ctxlog"
)

// Loader parses a single .yaml configuration file into the shared model.
type Loader struct{}

// NewLoader creates a new YAML configuration loader.
func NewLoader() *Loader {
	return &Loader{}
}

// location decodes the loose path form: a bare scalar is a local path, a
// mapping holds one fetchable reference key.
type location struct {
	spec config.LocationSpec
}

func (l *location) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		spec, err := config.ParseLocation(map[string]string{"path": s})
		if err != nil {
			return err
		}
		l.spec = spec
		return nil
	}
	var raw map[string]string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	spec, err := config.ParseLocation(raw)
	if err != nil {
		return err
	}
	l.spec = spec
	return nil
}

type pluginDoc struct {
	Path   location          `yaml:"path"`
	Name   string            `yaml:"name"`
	Config map[string]string `yaml:"config"`
}

type groupDoc struct {
	PluginGroup []pluginDoc `yaml:"plugin_group"`
}

type flowDoc struct {
	Flow []groupDoc `yaml:"flow"`
}

type componentDoc struct {
	Path   location          `yaml:"path"`
	Config map[string]string `yaml:"config"`
}

type actionDoc struct {
	Name        string `yaml:"name"`
	Command     string `yaml:"command"`
	LogStdout   string `yaml:"log_stdout"`
	RunDuration int    `yaml:"run_duration"`
	EnableCI    bool   `yaml:"enable_ci"`
	KimeraPath  string `yaml:"kimera_path"`

	NoBuild   *groupDoc `yaml:"no_build"`
	BuildOnly *groupDoc `yaml:"build_only"`
	RunSolo   *groupDoc `yaml:"run_solo"`

	Monado    *componentDoc `yaml:"monado"`
	OpenXRApp *componentDoc `yaml:"openxr_app"`
}

type fileDoc struct {
	Profile string        `yaml:"profile"`
	Action  actionDoc     `yaml:"action"`
	Runtime *componentDoc `yaml:"runtime"`
	Common  *componentDoc `yaml:"common"`
	Flows   []flowDoc     `yaml:"flows"`
	Append  *groupDoc     `yaml:"append"`

	Data     *location `yaml:"data"`
	DemoData *location `yaml:"demo_data"`

	EnableOffload       bool `yaml:"enable_offload"`
	EnableAlignment     bool `yaml:"enable_alignment"`
	EnableVerboseErrors bool `yaml:"enable_verbose_errors"`
	EnablePreSleep      bool `yaml:"enable_pre_sleep"`
}

// Load parses and translates one YAML file. Unknown keys are rejected so
// typos surface at the boundary instead of silently defaulting.
func (l *Loader) Load(ctx context.Context, path string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("YAML loader started.", "path", path)

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var doc fileDoc
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	model := translate(&doc)
	logger.Debug("YAML configuration translated.", "flows", len(model.Flows), "action", model.Action.Name)
	return model, nil
}

func translate(doc *fileDoc) *config.Model {
	model := &config.Model{
		Profile:             doc.Profile,
		Runtime:             component(doc.Runtime),
		Common:              component(doc.Common),
		EnableOffload:       doc.EnableOffload,
		EnableAlignment:     doc.EnableAlignment,
		EnableVerboseErrors: doc.EnableVerboseErrors,
		EnablePreSleep:      doc.EnablePreSleep,
	}
	if doc.Data != nil {
		model.Data = doc.Data.spec
	}
	if doc.DemoData != nil {
		model.DemoData = doc.DemoData.spec
	}
	for _, fd := range doc.Flows {
		var flow config.Flow
		for _, gd := range fd.Flow {
			flow = append(flow, group(&gd))
		}
		model.Flows = append(model.Flows, flow)
	}
	model.Append = group(doc.Append)

	model.Action = config.ActionConfig{
		Name:        doc.Action.Name,
		Command:     doc.Action.Command,
		LogStdout:   doc.Action.LogStdout,
		RunDuration: doc.Action.RunDuration,
		EnableCI:    doc.Action.EnableCI,
		KimeraPath:  doc.Action.KimeraPath,
		NoBuild:     group(doc.Action.NoBuild),
		BuildOnly:   group(doc.Action.BuildOnly),
		RunSolo:     group(doc.Action.RunSolo),
		Monado:      component(doc.Action.Monado),
		OpenXRApp:   component(doc.Action.OpenXRApp),
	}
	return model
}

func component(cd *componentDoc) config.ComponentRef {
	if cd == nil {
		return config.ComponentRef{}
	}
	return config.ComponentRef{Path: cd.Path.spec, Config: cd.Config}
}

func group(gd *groupDoc) config.PluginGroup {
	if gd == nil {
		return nil
	}
	var out config.PluginGroup
	for _, pd := range gd.PluginGroup {
		out = append(out, config.PluginRef{Path: pd.Path.spec, Name: pd.Name, Config: pd.Config})
	}
	return out
}
