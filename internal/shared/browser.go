package shared

import (
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
)

// openers maps a GOOS to the command that hands a URL to the desktop.
var openers = map[string][]string{
	"darwin":  {"open"},
	"linux":   {"xdg-open"},
	"windows": {"cmd", "/c", "start"},
}

var (
	getRuntime = func() string { return runtime.GOOS }
	startCmd   = func(c *exec.Cmd) error { return c.Start() }
)

// ConsoleURL links to a Redshift cluster's page in the AWS console.
func ConsoleURL(region, identifier string) string {
	return fmt.Sprintf("https://%s.console.aws.amazon.com/redshiftv2/home?region=%s#cluster-details?cluster=%s",
		region, region, url.QueryEscape(identifier))
}

// OpenBrowser opens the default system browser to the specified URL.
func OpenBrowser(link string) error {
	argv, ok := openers[getRuntime()]
	if !ok {
		return fmt.Errorf("%w: no browser opener for %s", ErrNotImplemented, getRuntime())
	}

	args := append(append([]string{}, argv[1:]...), link)
	if err := startCmd(exec.Command(argv[0], args...)); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	return nil
}
