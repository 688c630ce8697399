// Package hclcfg is the HCL implementation of config.Loader.
package hclcfg

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/illixr/runner/internal/config"
	"github.com/illixr/runner/internal/ctxlog"
)

// Loader parses a single .hcl configuration file into the shared model.
type Loader struct{}

// NewLoader creates a new HCL configuration loader.
func NewLoader() *Loader {
	return &Loader{}
}

// fileRoot decodes all recognized top-level attributes and blocks.
type fileRoot struct {
	Profile string        `hcl:"profile,optional"`
	Action  actionBlock   `hcl:"action,block"`
	Runtime *componentRef `hcl:"runtime,block"`
	Common  *componentRef `hcl:"common,block"`
	Flows   []flowBlock   `hcl:"flow,block"`
	Append  *groupBlock   `hcl:"append,block"`

	Data     cty.Value `hcl:"data,optional"`
	DemoData cty.Value `hcl:"demo_data,optional"`

	EnableOffload       bool `hcl:"enable_offload,optional"`
	EnableAlignment     bool `hcl:"enable_alignment,optional"`
	EnableVerboseErrors bool `hcl:"enable_verbose_errors,optional"`
	EnablePreSleep      bool `hcl:"enable_pre_sleep,optional"`
}

type actionBlock struct {
	Name        string `hcl:"name"`
	Command     string `hcl:"command,optional"`
	LogStdout   string `hcl:"log_stdout,optional"`
	RunDuration int    `hcl:"run_duration,optional"`
	EnableCI    bool   `hcl:"enable_ci,optional"`
	KimeraPath  string `hcl:"kimera_path,optional"`

	NoBuild   *groupBlock `hcl:"no_build,block"`
	BuildOnly *groupBlock `hcl:"build_only,block"`
	RunSolo   *groupBlock `hcl:"run_solo,block"`

	Monado    *componentRef `hcl:"monado,block"`
	OpenXRApp *componentRef `hcl:"openxr_app,block"`
}

type componentRef struct {
	Path   cty.Value         `hcl:"path"`
	Config map[string]string `hcl:"config,optional"`
}

type flowBlock struct {
	Groups []groupBlock `hcl:"plugin_group,block"`
}

type groupBlock struct {
	Plugins []pluginBlock `hcl:"plugin,block"`
}

type pluginBlock struct {
	Path   cty.Value         `hcl:"path"`
	Name   string            `hcl:"name,optional"`
	Config map[string]string `hcl:"config,optional"`
}

// Load parses and translates one HCL file. Defaults and validation run in
// the config package afterwards; this only maps syntax to the model.
func (l *Loader) Load(ctx context.Context, path string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path", path)

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parsing %s: %w", path, diags)
	}

	var root fileRoot
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return nil, fmt.Errorf("decoding %s: %w", path, diags)
	}

	model, err := translate(&root)
	if err != nil {
		return nil, fmt.Errorf("translating %s: %w", path, err)
	}
	logger.Debug("HCL configuration translated.", "flows", len(model.Flows), "action", model.Action.Name)
	return model, nil
}

func translate(root *fileRoot) (*config.Model, error) {
	model := &config.Model{
		Profile:             root.Profile,
		EnableOffload:       root.EnableOffload,
		EnableAlignment:     root.EnableAlignment,
		EnableVerboseErrors: root.EnableVerboseErrors,
		EnablePreSleep:      root.EnablePreSleep,
	}

	var err error
	if model.Data, err = location(root.Data); err != nil {
		return nil, fmt.Errorf("data: %w", err)
	}
	if model.DemoData, err = location(root.DemoData); err != nil {
		return nil, fmt.Errorf("demo_data: %w", err)
	}
	if model.Runtime, err = component(root.Runtime); err != nil {
		return nil, fmt.Errorf("runtime: %w", err)
	}
	if model.Common, err = component(root.Common); err != nil {
		return nil, fmt.Errorf("common: %w", err)
	}

	for i, fb := range root.Flows {
		var flow config.Flow
		for _, gb := range fb.Groups {
			group, err := group(&gb)
			if err != nil {
				return nil, fmt.Errorf("flow %d: %w", i, err)
			}
			flow = append(flow, group)
		}
		model.Flows = append(model.Flows, flow)
	}
	if model.Append, err = group(root.Append); err != nil {
		return nil, fmt.Errorf("append: %w", err)
	}

	act := &root.Action
	model.Action = config.ActionConfig{
		Name:        act.Name,
		Command:     act.Command,
		LogStdout:   act.LogStdout,
		RunDuration: act.RunDuration,
		EnableCI:    act.EnableCI,
		KimeraPath:  act.KimeraPath,
	}
	if model.Action.NoBuild, err = group(act.NoBuild); err != nil {
		return nil, fmt.Errorf("action.no_build: %w", err)
	}
	if model.Action.BuildOnly, err = group(act.BuildOnly); err != nil {
		return nil, fmt.Errorf("action.build_only: %w", err)
	}
	if model.Action.RunSolo, err = group(act.RunSolo); err != nil {
		return nil, fmt.Errorf("action.run_solo: %w", err)
	}
	if model.Action.Monado, err = component(act.Monado); err != nil {
		return nil, fmt.Errorf("action.monado: %w", err)
	}
	if model.Action.OpenXRApp, err = component(act.OpenXRApp); err != nil {
		return nil, fmt.Errorf("action.openxr_app: %w", err)
	}

	return model, nil
}

func component(cr *componentRef) (config.ComponentRef, error) {
	if cr == nil {
		return config.ComponentRef{}, nil
	}
	spec, err := location(cr.Path)
	if err != nil {
		return config.ComponentRef{}, err
	}
	return config.ComponentRef{Path: spec, Config: cr.Config}, nil
}

func group(gb *groupBlock) (config.PluginGroup, error) {
	if gb == nil {
		return nil, nil
	}
	var out config.PluginGroup
	for i, pb := range gb.Plugins {
		spec, err := location(pb.Path)
		if err != nil {
			return nil, fmt.Errorf("plugin %d: %w", i, err)
		}
		out = append(out, config.PluginRef{Path: spec, Name: pb.Name, Config: pb.Config})
	}
	return out, nil
}

// location accepts either a string (a local path) or an object holding one
// fetchable reference key, mirroring the loose path form of the YAML
// front-end.
func location(v cty.Value) (config.LocationSpec, error) {
	if v == cty.NilVal || v.IsNull() {
		return config.LocationSpec{}, nil
	}
	t := v.Type()
	switch {
	case t == cty.String:
		return config.ParseLocation(map[string]string{"path": v.AsString()})
	case t.IsObjectType() || t.IsMapType():
		raw := make(map[string]string)
		for it := v.ElementIterator(); it.Next(); {
			k, ev := it.Element()
			if ev.Type() != cty.String {
				return config.LocationSpec{}, fmt.Errorf("location key %q: expected string", k.AsString())
			}
			raw[k.AsString()] = ev.AsString()
		}
		return config.ParseLocation(raw)
	default:
		return config.LocationSpec{}, fmt.Errorf("location: expected string or object, got %s", t.FriendlyName())
	}
}
