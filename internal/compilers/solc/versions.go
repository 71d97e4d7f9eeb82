package solc

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/mod/semver"

	"github.com/pendergraft/verifactory/internal/compilers"
)

// Build is one entry of the release index.
type Build struct {
	Version     string `json:"version"`
	LongVersion string `json:"longVersion"`
	Path        string `json:"path"`
}

// VersionList is the release index served by the binary repository as
// list.json.
type VersionList struct {
	Builds        []Build           `json:"builds"`
	Releases      map[string]string `json:"releases"`
	LatestRelease string            `json:"latestRelease"`
}

// FetchVersionList downloads and parses the release index from repo.
func FetchVersionList(ctx context.Context, downloader *compilers.Downloader, repo string) (*VersionList, error) {
	body, err := downloader.Fetch(ctx, repo+"/list.json")
	if err != nil {
		return nil, err
	}
	var list VersionList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("parsing list.json: %w", err)
	}
	return &list, nil
}

// ReleaseVersions returns the long release versions (including the commit
// suffix) sorted oldest first.
func (l *VersionList) ReleaseVersions() []string {
	versions := make([]string, 0, len(l.Releases))
	for _, b := range l.Builds {
		if _, ok := l.Releases[b.Version]; ok {
			versions = append(versions, b.LongVersion)
		}
	}
	sort.Slice(versions, func(i, j int) bool {
		return semver.Compare("v"+versions[i], "v"+versions[j]) < 0
	})
	return versions
}

// IsLegacy reports whether version predates 0.5.0. Those engine builds leak
// state across compilations and must run in a fresh worker per invocation.
func IsLegacy(version string) bool {
	return semver.Compare("v"+version, "v0.5.0") < 0
}
