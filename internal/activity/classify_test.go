package activity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/erg0nix/glance/internal/core"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		app      string
		title    string
		expected core.ActivityContext
	}{
		{
			name:  "editor with em-dash title",
			app:   "Code",
			title: "classify.go — glance — Visual Studio Code",
			expected: core.ActivityContext{
				App: "Code", File: "classify.go", Project: "glance", ActivityType: core.ActivityCoding,
			},
		},
		{
			name:  "editor with hyphen title and dirty marker",
			app:   "Cursor",
			title: "● main.go - glance - Cursor",
			expected: core.ActivityContext{
				App: "Cursor", File: "main.go", Project: "glance", ActivityType: core.ActivityCoding,
			},
		},
		{
			name:  "editor with project only",
			app:   "Zed",
			title: "glance - Zed",
			expected: core.ActivityContext{
				App: "Zed", Project: "glance", ActivityType: core.ActivityCoding,
			},
		},
		{
			name:     "terminal",
			app:      "iTerm2",
			title:    "zsh",
			expected: core.ActivityContext{App: "iTerm2", ActivityType: core.ActivityCoding},
		},
		{
			name:  "browser on known domain",
			app:   "Google Chrome",
			title: "Pull requests - github.com - Google Chrome",
			expected: core.ActivityContext{
				App: "Google Chrome", Domain: "github.com", ActivityType: core.ActivityCoding,
			},
		},
		{
			name:  "browser on subdomain of known domain",
			app:   "Firefox",
			title: "Inbox - www.mail.google.com - Mozilla Firefox",
			expected: core.ActivityContext{
				App: "Firefox", Domain: "mail.google.com", ActivityType: core.ActivityCommunication,
			},
		},
		{
			name:  "browser on unknown domain defaults to research",
			app:   "Safari",
			title: "Ring buffers explained - blog.example.org - Safari",
			expected: core.ActivityContext{
				App: "Safari", Domain: "blog.example.org", ActivityType: core.ActivityResearch,
			},
		},
		{
			name:     "browser without domain",
			app:      "Arc",
			title:    "New Tab",
			expected: core.ActivityContext{App: "Arc", ActivityType: core.ActivityResearch},
		},
		{
			name:     "communication",
			app:      "Slack",
			title:    "#general",
			expected: core.ActivityContext{App: "Slack", ActivityType: core.ActivityCommunication},
		},
		{
			name:     "media",
			app:      "Spotify",
			expected: core.ActivityContext{App: "Spotify", ActivityType: core.ActivityMedia},
		},
		{
			name:     "productivity",
			app:      "Notion",
			expected: core.ActivityContext{App: "Notion", ActivityType: core.ActivityProductivity},
		},
		{
			name:     "unknown app",
			app:      "Archive Utility",
			expected: core.ActivityContext{App: "Archive Utility", ActivityType: core.ActivityOther},
		},
		{
			name:     "empty input",
			expected: core.ActivityContext{ActivityType: core.ActivityOther},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.app, tt.title))
		})
	}
}

func TestIsContextChange(t *testing.T) {
	base := core.ActivityContext{App: "Code", Project: "glance", ActivityType: core.ActivityCoding}

	tests := []struct {
		name     string
		prev     *core.ActivityContext
		cur      core.ActivityContext
		expected bool
	}{
		{name: "nil previous", prev: nil, cur: base, expected: true},
		{name: "same context", prev: &base, cur: base, expected: false},
		{name: "app differs only by case", prev: &base, cur: core.ActivityContext{App: "CODE", Project: "glance"}, expected: false},
		{name: "different file same project", prev: &base, cur: core.ActivityContext{App: "Code", Project: "glance", File: "x.go"}, expected: false},
		{name: "different app", prev: &base, cur: core.ActivityContext{App: "Slack"}, expected: true},
		{name: "project to undefined", prev: &base, cur: core.ActivityContext{App: "Code"}, expected: true},
		{name: "undefined to project", prev: &core.ActivityContext{App: "Code"}, cur: base, expected: true},
		{
			name:     "domain differs",
			prev:     &core.ActivityContext{App: "Safari", Domain: "github.com"},
			cur:      core.ActivityContext{App: "Safari", Domain: "youtube.com"},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsContextChange(tt.prev, tt.cur))
		})
	}
}
