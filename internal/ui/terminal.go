package ui

import (
	"os"
	"strings"

	"golang.org/x/term"
)

// ShouldUseColor reports whether stdout should get ANSI colors.
func ShouldUseColor() bool {
	return colorFromEnv(os.Getenv, term.IsTerminal(int(os.Stdout.Fd())))
}

// colorFromEnv applies the usual conventions in order: NO_COLOR
// (https://no-color.org), CLICOLOR_FORCE=1, CLICOLOR=0, TERM=dumb, and
// finally whether the output is a terminal.
func colorFromEnv(getenv func(string) string, isTTY bool) bool {
	switch {
	case getenv("NO_COLOR") != "":
		return false
	case strings.TrimSpace(getenv("CLICOLOR_FORCE")) == "1":
		return true
	case strings.TrimSpace(getenv("CLICOLOR")) == "0":
		return false
	case getenv("TERM") == "dumb":
		return false
	}
	return isTTY
}
