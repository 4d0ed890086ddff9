package main

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/ailoop/internal/ui"
)

// helpRule styles the parts of Cobra's help text matched by re. style
// receives the submatches and returns the replacement.
type helpRule struct {
	re    *regexp.Regexp
	style func(parts []string) string
}

var helpRules = []helpRule{
	// Section headers: "Messaging:", "Flags:". "Usage:" is left plain.
	{
		re: regexp.MustCompile(`(?m)^([A-Z][^\n]*:)\s*$`),
		style: func(p []string) string {
			if strings.HasPrefix(p[1], "Usage") {
				return p[0]
			}
			return ui.RenderAccent(strings.TrimSpace(p[1]))
		},
	},
	// Command names: two-space indent, a word, then padding.
	{
		re:    regexp.MustCompile(`(?m)^(  )(\S+)(  )`),
		style: func(p []string) string { return p[1] + ui.RenderCommand(p[2]) + p[3] },
	},
	// Flag value types: "--channel string", "--timeout duration".
	{
		re:    regexp.MustCompile(`(--?\S+\s+)(string|int|duration|strings|stringSlice)\b`),
		style: func(p []string) string { return p[1] + ui.RenderMuted(p[2]) },
	},
	// Defaults: (default "public"), (default 1000).
	{
		re:    regexp.MustCompile(`\(default [^)]*\)`),
		style: func(p []string) string { return ui.RenderMuted(p[0]) },
	},
}

// colorizedHelpFunc returns a Cobra help function that colors the usage text
// when stdout supports it.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		if !ui.ShouldUseColor() {
			cmd.SetOut(out)
			_ = cmd.Usage()
			return
		}

		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(out)
		fmt.Fprint(out, colorizeHelpOutput(buf.String()))
	}
}

func colorizeHelpOutput(s string) string {
	for _, r := range helpRules {
		s = r.re.ReplaceAllStringFunc(s, func(match string) string {
			return r.style(r.re.FindStringSubmatch(match))
		})
	}
	return s
}
