package ui

import "testing"

func TestColorFromEnv(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		isTTY bool
		want  bool
	}{
		{"tty", nil, true, true},
		{"pipe", nil, false, false},
		{"no color wins", map[string]string{"NO_COLOR": "1", "CLICOLOR_FORCE": "1"}, true, false},
		{"forced on pipe", map[string]string{"CLICOLOR_FORCE": "1"}, false, true},
		{"clicolor off", map[string]string{"CLICOLOR": "0"}, true, false},
		{"dumb terminal", map[string]string{"TERM": "dumb"}, true, false},
		{"forced on dumb terminal", map[string]string{"TERM": "dumb", "CLICOLOR_FORCE": "1"}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			getenv := func(k string) string { return tt.env[k] }
			if got := colorFromEnv(getenv, tt.isTTY); got != tt.want {
				t.Errorf("colorFromEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}
