// Package activectx resolves the frontmost application and, for browsers, the active tab.
package activectx

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// TabInfo is the URL and title of a browser's active tab.
type TabInfo struct {
	URL   string
	Title string
}

// Provider answers "where did this copy come from". Implementations never fail:
// unresolvable context is reported as "" or nil.
type Provider interface {
	FrontmostApp(ctx context.Context) string
	BrowserTab(ctx context.Context, app string) *TabInfo
}

// DefaultBrowsers are the applications queried for tab info.
var DefaultBrowsers = []string{"Google Chrome", "Safari", "Microsoft Edge", "Brave Browser", "Arc"}

const scriptTimeout = 3 * time.Second

const tabSeparator = "|||"

const frontmostScript = `tell application "System Events"
	set frontApp to name of first application process whose frontmost is true
end tell
return frontApp`

// Safari names its tab property differently from the Chromium family.
const safariTabScript = `tell application "Safari"
	if running then
		try
			set theTab to current tab of front window
			return (URL of theTab) & "|||" & (name of theTab)
		on error
			return ""
		end try
	else
		return ""
	end if
end tell`

const chromiumTabScript = `tell application %q
	if running then
		try
			set theTab to active tab of front window
			return (URL of theTab) & "|||" & (title of theTab)
		on error
			return ""
		end try
	else
		return ""
	end if
end tell`

// System resolves context with osascript on macOS and xdotool on X11.
type System struct {
	browsers map[string]bool
	goos     string
}

// NewSystem returns a Provider that treats the named apps as browsers.
// An empty list selects DefaultBrowsers.
func NewSystem(browsers []string) *System {
	if len(browsers) == 0 {
		browsers = DefaultBrowsers
	}
	set := make(map[string]bool, len(browsers))
	for _, b := range browsers {
		set[b] = true
	}
	return &System{browsers: set, goos: runtime.GOOS}
}

// IsBrowser reports whether app is one of the configured browsers.
func (s *System) IsBrowser(app string) bool {
	return s.browsers[app]
}

// FrontmostApp returns the name of the focused application, or "".
func (s *System) FrontmostApp(ctx context.Context) string {
	switch s.goos {
	case "darwin":
		out, err := osascript(ctx, frontmostScript)
		if err != nil {
			return ""
		}
		return out
	case "linux", "freebsd", "openbsd", "netbsd":
		return x11FrontmostApp(ctx)
	default:
		return ""
	}
}

// BrowserTab returns the active tab of app, or nil when app is not a browser,
// has no window, or scripting is unavailable.
func (s *System) BrowserTab(ctx context.Context, app string) *TabInfo {
	if s.goos != "darwin" || !s.IsBrowser(app) {
		return nil
	}
	script := fmt.Sprintf(chromiumTabScript, app)
	if app == "Safari" {
		script = safariTabScript
	}
	out, err := osascript(ctx, script)
	if err != nil {
		return nil
	}
	return ParseTab(out)
}

// ParseTab splits the "url|||title" script output. A result without a URL is nil.
func ParseTab(out string) *TabInfo {
	url, title, _ := strings.Cut(strings.TrimSpace(out), tabSeparator)
	if url == "" {
		return nil
	}
	return &TabInfo{URL: url, Title: title}
}

func osascript(ctx context.Context, script string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, scriptTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "osascript")
	cmd.Stdin = strings.NewReader(script)
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// x11FrontmostApp maps the active window's pid to its process name.
func x11FrontmostApp(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, scriptTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "xdotool", "getactivewindow", "getwindowpid").Output()
	if err != nil {
		return ""
	}
	pid := strings.TrimSpace(string(out))
	if pid == "" {
		return ""
	}
	comm, err := os.ReadFile("/proc/" + pid + "/comm")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(comm))
}
