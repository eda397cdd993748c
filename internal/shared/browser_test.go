package shared

import (
	"errors"
	"os/exec"
	"strings"
	"testing"
)

func TestOpenBrowser(t *testing.T) {
	origRuntime, origStart := getRuntime, startCmd
	t.Cleanup(func() { getRuntime, startCmd = origRuntime, origStart })

	var started *exec.Cmd
	startCmd = func(c *exec.Cmd) error {
		started = c
		return nil
	}

	tests := []struct {
		goos string
		want []string
	}{
		{"darwin", []string{"open", "https://example.com"}},
		{"linux", []string{"xdg-open", "https://example.com"}},
		{"windows", []string{"cmd", "/c", "start", "https://example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			getRuntime = func() string { return tt.goos }
			if err := OpenBrowser("https://example.com"); err != nil {
				t.Fatalf("OpenBrowser() error = %v", err)
			}
			if strings.Join(started.Args, " ") != strings.Join(tt.want, " ") {
				t.Errorf("args = %v, want %v", started.Args, tt.want)
			}
		})
	}

	t.Run("unsupported platform", func(t *testing.T) {
		getRuntime = func() string { return "plan9" }
		if err := OpenBrowser("https://example.com"); !errors.Is(err, ErrNotImplemented) {
			t.Errorf("expected ErrNotImplemented, got %v", err)
		}
	})

	t.Run("start failure", func(t *testing.T) {
		getRuntime = func() string { return "linux" }
		startCmd = func(*exec.Cmd) error { return errors.New("no display") }
		if err := OpenBrowser("https://example.com"); err == nil || !strings.Contains(err.Error(), "failed to open browser") {
			t.Errorf("expected start error, got %v", err)
		}
	})
}

func TestConsoleURL(t *testing.T) {
	got := ConsoleURL("us-west-2", "dwhCluster")
	want := "https://us-west-2.console.aws.amazon.com/redshiftv2/home?region=us-west-2#cluster-details?cluster=dwhCluster"
	if got != want {
		t.Errorf("ConsoleURL() = %s, want %s", got, want)
	}
}
