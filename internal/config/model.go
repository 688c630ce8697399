// Package config defines the format-agnostic configuration model for the
// runner. Front-end loaders (HCL, YAML) translate their syntax into this
// model; defaults and validation run once here, so the rest of the program
// never probes for optional keys.
package config

import (
	"fmt"
	"sort"
	"strings"
)

// LocationSpec is a logical path reference: either a path relative to the
// invocation root, or a fetchable descriptor resolved through the path
// cache. Exactly one field is set.
type LocationSpec struct {
	Local       string
	GitRepo     string
	Rev         string // optional, only with GitRepo
	DownloadURL string
	ZipArchive  string
	TarArchive  string
}

// IsZero reports whether the spec is unset.
func (s LocationSpec) IsZero() bool {
	return s.Local == "" && s.GitRepo == "" && s.DownloadURL == "" &&
		s.ZipArchive == "" && s.TarArchive == ""
}

// Fetchable reports whether resolving the spec may touch the network.
func (s LocationSpec) Fetchable() bool {
	return !s.IsZero() && s.Local == ""
}

// Canonical returns a stable textual form of the spec, used both for cache
// keying and for error messages. It depends only on the spec's content.
func (s LocationSpec) Canonical() string {
	switch {
	case s.Local != "":
		return "path:" + s.Local
	case s.GitRepo != "":
		if s.Rev != "" {
			return "git:" + s.GitRepo + "@" + s.Rev
		}
		return "git:" + s.GitRepo
	case s.DownloadURL != "":
		return "url:" + s.DownloadURL
	case s.ZipArchive != "":
		return "zip:" + s.ZipArchive
	case s.TarArchive != "":
		return "tar:" + s.TarArchive
	}
	return ""
}

func (s LocationSpec) String() string { return s.Canonical() }

// Validate checks that exactly one reference form is present.
func (s LocationSpec) Validate() error {
	n := 0
	for _, f := range []string{s.Local, s.GitRepo, s.DownloadURL, s.ZipArchive, s.TarArchive} {
		if f != "" {
			n++
		}
	}
	switch {
	case n == 0:
		return fmt.Errorf("location: empty reference")
	case n > 1:
		return fmt.Errorf("location %q: more than one reference form", s.Canonical())
	case s.Rev != "" && s.GitRepo == "":
		return fmt.Errorf("location %q: rev without git_repo", s.Canonical())
	}
	return nil
}

// LocalSpec is a convenience constructor for a plain local reference.
func LocalSpec(path string) LocationSpec { return LocationSpec{Local: path} }

// ParseLocation builds a LocationSpec from the loose mapping form both
// config front-ends share: a bare string is a local path, a mapping holds
// exactly one fetchable key.
func ParseLocation(raw map[string]string) (LocationSpec, error) {
	spec := LocationSpec{
		Local:       raw["path"],
		GitRepo:     raw["git_repo"],
		Rev:         raw["rev"],
		DownloadURL: raw["download_url"],
		ZipArchive:  raw["zip_archive"],
		TarArchive:  raw["tar_archive"],
	}
	for k := range raw {
		switch k {
		case "path", "git_repo", "rev", "download_url", "zip_archive", "tar_archive":
		default:
			return LocationSpec{}, fmt.Errorf("location: unknown key %q", k)
		}
	}
	return spec, spec.Validate()
}

// PluginRef identifies one plugin: where its sources live, an optional
// display name, and build-variable overrides handed to its recipe.
type PluginRef struct {
	Path   LocationSpec
	Name   string // defaults to the basename of the resolved path
	Config map[string]string
}

// PluginGroup is a set of plugins with no required relative ordering.
type PluginGroup []PluginRef

// Flow is an ordered sequence of plugin groups forming one run phase list.
type Flow []PluginGroup

// ComponentRef points at a buildable component (runtime, common tree,
// external app) plus its build-variable overrides.
type ComponentRef struct {
	Path   LocationSpec
	Config map[string]string
}

// ActionConfig selects the routine to run and carries its parameters.
type ActionConfig struct {
	Name        string
	Command     string // command template, default "$cmd"
	LogStdout   string // log-file stem; flow index is appended
	RunDuration int    // seconds; zero means the action default
	EnableCI    bool   // tests action: run the CI matrix first

	// CI matrix stage lists.
	NoBuild   PluginGroup
	BuildOnly PluginGroup
	RunSolo   PluginGroup

	// Monado action components.
	Monado    ComponentRef
	OpenXRApp ComponentRef

	// Root of the external Kimera tree, exported as KIMERA_ROOT.
	KimeraPath string
}

// Model is the complete validated configuration for one invocation.
type Model struct {
	Action   ActionConfig
	Profile  string
	Runtime  ComponentRef
	Common   ComponentRef
	Flows    []Flow
	Append   PluginGroup // appended to every flow
	Data     LocationSpec
	DemoData LocationSpec

	EnableOffload       bool
	EnableAlignment     bool
	EnableVerboseErrors bool
	EnablePreSleep      bool
}

// FlowPlugins flattens a flow's groups, with the append group attached,
// into one ordered plugin sequence. Order matters: it becomes the runtime's
// plugin argument order.
func (m *Model) FlowPlugins(f Flow) []PluginRef {
	var refs []PluginRef
	for _, group := range f {
		refs = append(refs, group...)
	}
	refs = append(refs, m.Append...)
	return refs
}

// SortedVars flattens a build-variable map into sorted KEY=value pairs.
func SortedVars(vars map[string]string) []string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(vars))
	for _, k := range keys {
		out = append(out, k+"="+vars[k])
	}
	return out
}

// ValidationError reports a configuration rejected at the boundary.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}
