package launch

import (
	"fmt"
	"strconv"
	"strings"
)

// Strategy is one named candidate for starting a dev server: a command
// template plus argument and environment templates. The {port} placeholder
// is expanded at instantiation time; frameworks that ignore command-line
// port flags carry the port in the environment instead.
type Strategy struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string

	// BaseArgs are appended when the session has a public base path and
	// the framework supports serving under one (the {base} placeholder).
	// Serving under the session's proxy prefix makes absolute asset URLs
	// resolve without the referer heuristic.
	BaseArgs []string
}

// strategyTable maps a framework tag to its ordered launch candidates.
// Data-driven: adding a framework means adding rows, not control flow.
var strategyTable = map[string][]Strategy{
	"vite": {
		{
			Name:    "vite-strict-port",
			Command: "npx",
			Args:    []string{"vite", "--port", "{port}", "--strictPort", "--host", "127.0.0.1"},
			BaseArgs: []string{"--base", "{base}/"},
		},
		{
			Name:    "npm-dev-port-flag",
			Command: "npm",
			Args:    []string{"run", "dev", "--", "--port", "{port}"},
			Env:     map[string]string{"PORT": "{port}"},
		},
	},
	"next": {
		{
			Name:    "next-port-flag",
			Command: "npx",
			Args:    []string{"next", "dev", "--port", "{port}", "--hostname", "127.0.0.1"},
		},
		{
			Name:    "npm-dev-env",
			Command: "npm",
			Args:    []string{"run", "dev"},
			Env:     map[string]string{"PORT": "{port}"},
		},
	},
	// react-scripts ignores port flags entirely; the port must ride in
	// the environment. BROWSER=none stops it opening a browser on the
	// host, CI=true stops it prompting when the port is taken.
	"cra": {
		{
			Name:    "react-scripts-env",
			Command: "npx",
			Args:    []string{"react-scripts", "start"},
			Env:     map[string]string{"PORT": "{port}", "BROWSER": "none", "CI": "true", "HOST": "127.0.0.1"},
		},
		{
			Name:    "npm-start-env",
			Command: "npm",
			Args:    []string{"run", "start"},
			Env:     map[string]string{"PORT": "{port}", "BROWSER": "none", "CI": "true"},
		},
	},
	"unknown": {
		{
			Name:    "npm-dev",
			Command: "npm",
			Args:    []string{"run", "dev", "--", "--port", "{port}"},
			Env:     map[string]string{"PORT": "{port}"},
		},
		{
			Name:    "npm-start",
			Command: "npm",
			Args:    []string{"run", "start"},
			Env:     map[string]string{"PORT": "{port}", "BROWSER": "none", "CI": "true"},
		},
	},
}

// StrategiesFor returns the ordered strategy list for a framework tag,
// falling back to the unknown list for unrecognized tags.
func StrategiesFor(framework string) []Strategy {
	if list, ok := strategyTable[framework]; ok {
		return list
	}
	return strategyTable["unknown"]
}

// Frameworks returns the framework tags with dedicated strategy lists.
func Frameworks() []string {
	tags := make([]string, 0, len(strategyTable))
	for tag := range strategyTable {
		tags = append(tags, tag)
	}
	return tags
}

// Instantiate expands a strategy's templates for a concrete port and
// optional base path, returning the final command arguments and
// KEY=VALUE environment entries.
func (s Strategy) Instantiate(port int, basePath string) (args []string, env []string) {
	portStr := strconv.Itoa(port)

	args = make([]string, 0, len(s.Args)+len(s.BaseArgs))
	for _, a := range s.Args {
		args = append(args, strings.ReplaceAll(a, "{port}", portStr))
	}
	if basePath != "" {
		for _, a := range s.BaseArgs {
			args = append(args, strings.ReplaceAll(a, "{base}", basePath))
		}
	}

	for k, v := range s.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, strings.ReplaceAll(v, "{port}", portStr)))
	}
	return args, env
}

// SupportsBasePath reports whether the strategy can serve under a public
// base path prefix.
func (s Strategy) SupportsBasePath() bool {
	return len(s.BaseArgs) > 0
}
