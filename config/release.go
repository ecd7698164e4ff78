package config

import (
	"fmt"
	"strings"
)

// Release identifies a kernel branch tracked by the dashboard.
type Release string

// Known releases.
const (
	ReleaseUpstream Release = "upstream"
	ReleaseLTS515   Release = "lts-5.15"
	ReleaseLTS61    Release = "lts-6.1"
)

var releasePaths = map[Release]string{
	ReleaseUpstream: "/upstream",
	ReleaseLTS515:   "/linux-5.15",
	ReleaseLTS61:    "/linux-6.1",
}

// Releases lists every supported release in display order.
func Releases() []Release {
	return []Release{ReleaseUpstream, ReleaseLTS515, ReleaseLTS61}
}

// ParseRelease validates a release identifier.
func ParseRelease(s string) (Release, error) {
	r := Release(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := releasePaths[r]; !ok {
		return "", fmt.Errorf("unknown release %q (want one of %s)", s, releaseNames())
	}
	return r, nil
}

// Path is the listing page path relative to the dashboard origin.
func (r Release) Path() string {
	return releasePaths[r]
}

// DirName is the release as used in output paths: hyphens become underscores.
func (r Release) DirName() string {
	return strings.ReplaceAll(string(r), "-", "_")
}

func (r Release) String() string {
	return string(r)
}

func releaseNames() string {
	names := make([]string, 0, len(releasePaths))
	for _, r := range Releases() {
		names = append(names, string(r))
	}
	return strings.Join(names, ", ")
}
