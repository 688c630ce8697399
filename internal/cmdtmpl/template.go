// Package cmdtmpl expands the small placeholder language used in the
// configuration's command template into a flat argument vector. The
// template is shell-word-split once; placeholders are a closed set and are
// matched as whole tokens only, so substitution is a single-pass splice
// with no interpolation or recursion.
package cmdtmpl

import (
	"fmt"
	"sort"

	"github.com/kballard/go-shellquote"
)

// Placeholder is one recognized template token.
type Placeholder string

const (
	// Cmd expands to the runtime executable followed by every plugin
	// artifact, in build order.
	Cmd Placeholder = "$cmd"
	// EnvCmd expands to an `env -C <root> VAR=value...` wrapper around the
	// Cmd expansion, for launchers that do not inherit an environment.
	EnvCmd Placeholder = "$env_cmd"
	// QuotedCmd expands to the Cmd expansion shell-quoted into one token,
	// for embedding in another command (e.g. over SSH).
	QuotedCmd Placeholder = "$quoted_cmd"
	// Env expands to the flattened VAR=value tokens alone.
	Env Placeholder = "$env"
)

// Bindings hold everything the placeholders draw from.
type Bindings struct {
	// RuntimeExe is the resolved runtime executable path.
	RuntimeExe string
	// Artifacts are the built plugin paths, already in declared order.
	Artifacts []string
	// Env is the environment set for this flow.
	Env map[string]string
	// Root is the invocation root, used by EnvCmd's -C flag.
	Root string
}

// EnvTokens flattens an environment set into VAR=value tokens in sorted
// key order, so expansions are deterministic.
func EnvTokens(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(env))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// table builds the expansion lookup for each placeholder.
func (b Bindings) table() map[Placeholder][]string {
	cmd := append([]string{b.RuntimeExe}, b.Artifacts...)
	envTokens := EnvTokens(b.Env)

	envCmd := append([]string{"env", "-C", b.Root}, envTokens...)
	envCmd = append(envCmd, cmd...)

	return map[Placeholder][]string{
		Cmd:       cmd,
		EnvCmd:    envCmd,
		QuotedCmd: {shellquote.Join(cmd...)},
		Env:       envTokens,
	}
}

// Expand tokenizes template with shell-word-splitting rules and splices
// each placeholder token's expansion in place. Tokens that are not exactly
// a recognized placeholder pass through unchanged, including tokens that
// merely contain one; this leniency lets literal `$`-prefixed tokens reach
// the launched command.
func Expand(template string, b Bindings) ([]string, error) {
	tokens, err := shellquote.Split(template)
	if err != nil {
		return nil, fmt.Errorf("splitting command template %q: %w", template, err)
	}
	table := b.table()

	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if expansion, ok := table[Placeholder(tok)]; ok {
			out = append(out, expansion...)
			continue
		}
		out = append(out, tok)
	}
	return out, nil
}
