// Copyright Amux Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package version

import (
	"fmt"
	"strconv"
	"strings"
)

// version is populated by the Go linker from the output of `git describe`.
var version string

// Current returns the version information of this build.
func Current() Git {
	return parseGit(version)
}

// Parse returns the human-readable version string of this build.
func Parse() string {
	return Current().String()
}

// Git is the version information extracted from a `git describe` label.
type Git struct {
	ClosestTag   string
	CommitsAhead int
	Sha          string
}

func (g Git) String() string {
	switch {
	case g == Git{}:
		// built without the release tooling, e.g. plain `go build`
		return "dev"
	case g.CommitsAhead != 0:
		// built from a commit after the closest release tag. git prefixes
		// the hash with "g"; strip it when rendering.
		return fmt.Sprintf("%s (%s, +%d)", g.Sha, g.ClosestTag, g.CommitsAhead)
	default:
		return g.ClosestTag
	}
}

// parseGit parses a `git describe --tags` label of the form
//
//	<release tag>-<commits since release tag>-g<commit hash>
//
// into its parts. Anything unparsable yields the zero Git.
func parseGit(v string) Git {
	parts := strings.Split(v, "-")
	l := len(parts)
	if l < 3 {
		return Git{}
	}

	// Release tags may themselves contain '-', so parse from the tail and
	// rejoin the head to recover the tag.
	commits, err := strconv.Atoi(parts[l-2])
	if err != nil {
		return Git{}
	}

	return Git{
		ClosestTag:   strings.Join(parts[:l-2], "-"),
		CommitsAhead: commits,
		Sha:          strings.TrimPrefix(parts[l-1], "g"),
	}
}
