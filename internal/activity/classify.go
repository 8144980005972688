// Package activity derives a structured activity context from an application name and window title.
package activity

import (
	"regexp"
	"strings"

	"github.com/erg0nix/glance/internal/core"
)

type titleParser func(title string, activity *core.ActivityContext)

type rule struct {
	substrings   []string
	exact        []string
	activityType core.ActivityType
	parse        titleParser
}

func (r rule) matches(lowerApp string) bool {
	for _, e := range r.exact {
		if lowerApp == e {
			return true
		}
	}
	for _, s := range r.substrings {
		if strings.Contains(lowerApp, s) {
			return true
		}
	}
	return false
}

// Order matters: the first rule whose keywords match the app name wins.
var rules = []rule{
	{
		substrings:   []string{"visual studio code", "vscode", "cursor", "zed", "goland", "intellij", "pycharm", "webstorm", "xcode", "sublime", "nvim", "neovim", "emacs", "code"},
		exact:        []string{"vim"},
		activityType: core.ActivityCoding,
		parse:        parseEditorTitle,
	},
	{
		substrings:   []string{"terminal", "iterm", "warp", "alacritty", "kitty", "wezterm", "ghostty"},
		activityType: core.ActivityCoding,
	},
	{
		substrings:   []string{"chrome", "chromium", "safari", "firefox", "microsoft edge", "brave", "opera", "vivaldi"},
		exact:        []string{"arc", "edge"},
		activityType: core.ActivityResearch,
		parse:        parseBrowserTitle,
	},
	{
		substrings:   []string{"slack", "discord", "zoom", "teams", "mail", "messages", "telegram", "whatsapp", "signal"},
		activityType: core.ActivityCommunication,
	},
	{
		substrings:   []string{"spotify", "music", "vlc", "netflix", "quicktime", "photos", "iina"},
		activityType: core.ActivityMedia,
	},
	{
		substrings:   []string{"notion", "obsidian", "microsoft word", "microsoft excel", "keynote", "powerpoint", "calendar", "figma", "linear"},
		exact:        []string{"word", "excel", "pages", "numbers"},
		activityType: core.ActivityProductivity,
	},
}

var domainTypes = map[string]core.ActivityType{
	"github.com":          core.ActivityCoding,
	"gitlab.com":          core.ActivityCoding,
	"bitbucket.org":       core.ActivityCoding,
	"stackoverflow.com":   core.ActivityCoding,
	"pkg.go.dev":          core.ActivityCoding,
	"localhost":           core.ActivityCoding,
	"slack.com":           core.ActivityCommunication,
	"mail.google.com":     core.ActivityCommunication,
	"outlook.live.com":    core.ActivityCommunication,
	"outlook.office.com":  core.ActivityCommunication,
	"discord.com":         core.ActivityCommunication,
	"web.whatsapp.com":    core.ActivityCommunication,
	"meet.google.com":     core.ActivityCommunication,
	"youtube.com":         core.ActivityMedia,
	"netflix.com":         core.ActivityMedia,
	"twitch.tv":           core.ActivityMedia,
	"open.spotify.com":    core.ActivityMedia,
	"docs.google.com":     core.ActivityProductivity,
	"sheets.google.com":   core.ActivityProductivity,
	"calendar.google.com": core.ActivityProductivity,
	"notion.so":           core.ActivityProductivity,
	"figma.com":           core.ActivityProductivity,
	"linear.app":          core.ActivityProductivity,
}

// Classify maps an application name and window title to an activity context.
// Every input yields a context; unknown applications are classified as other.
func Classify(appName, windowTitle string) core.ActivityContext {
	activity := core.ActivityContext{
		App:          strings.TrimSpace(appName),
		ActivityType: core.ActivityOther,
	}

	lowerApp := strings.ToLower(activity.App)
	if lowerApp == "" {
		return activity
	}

	for _, r := range rules {
		if !r.matches(lowerApp) {
			continue
		}

		activity.ActivityType = r.activityType
		if r.parse != nil {
			r.parse(strings.TrimSpace(windowTitle), &activity)
		}
		return activity
	}

	return activity
}

// IsContextChange reports whether cur represents a different activity than prev.
func IsContextChange(prev *core.ActivityContext, cur core.ActivityContext) bool {
	if prev == nil {
		return true
	}

	if !strings.EqualFold(prev.App, cur.App) {
		return true
	}

	return prev.Project != cur.Project || prev.Domain != cur.Domain
}

var titleSeparator = regexp.MustCompile(`\s+[-–—]\s+`)

func splitTitle(title string) []string {
	var parts []string
	for _, p := range titleSeparator.Split(title, -1) {
		p = strings.TrimSpace(p)
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func parseEditorTitle(title string, activity *core.ActivityContext) {
	title = strings.TrimLeft(title, "●• ")
	parts := splitTitle(title)

	switch {
	case len(parts) >= 3:
		activity.File = parts[0]
		activity.Project = parts[1]
	case len(parts) == 2:
		activity.Project = parts[0]
	}
}

var (
	trailingDomain = regexp.MustCompile(`[-–—]\s*((?:[a-z0-9-]+\.)+[a-z]{2,}|localhost(?::\d+)?)\s*[-–—]`)
	bareDomain     = regexp.MustCompile(`^(?:[a-z0-9-]+\.)+[a-z]{2,}$`)
)

func parseBrowserTitle(title string, activity *core.ActivityContext) {
	lower := strings.ToLower(title)

	domain := ""
	if matches := trailingDomain.FindAllStringSubmatch(lower, -1); len(matches) > 0 {
		domain = matches[len(matches)-1][1]
	} else {
		for _, p := range splitTitle(lower) {
			if bareDomain.MatchString(p) {
				domain = p
			}
		}
	}

	if domain == "" {
		return
	}

	domain = strings.TrimPrefix(domain, "www.")
	if host, _, ok := strings.Cut(domain, ":"); ok {
		domain = host
	}

	activity.Domain = domain
	activity.ActivityType = lookupDomain(domain)
}

func lookupDomain(domain string) core.ActivityType {
	if t, ok := domainTypes[domain]; ok {
		return t
	}

	best, bestType := "", core.ActivityResearch
	for known, t := range domainTypes {
		if strings.HasSuffix(domain, "."+known) && len(known) > len(best) {
			best, bestType = known, t
		}
	}

	return bestType
}
