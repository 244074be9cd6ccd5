package resolver

import "strings"

// RegistryHost extracts the registry host from an image reference,
// adapted verbatim from the teacher's internal/registry/parse.go
// RegistryHost (same host-vs-Hub-org heuristic: a first path segment
// containing '.' or ':' is a hostname, otherwise the image lives on the
// default public registry).
func RegistryHost(imageRef string) string {
	ref := imageRef
	if i := strings.Index(ref, "@"); i >= 0 {
		ref = ref[:i]
	}

	firstSlash := strings.Index(ref, "/")
	if firstSlash < 0 {
		return "docker.io"
	}

	firstSegment := ref[:firstSlash]
	if strings.ContainsAny(firstSegment, ".:") {
		return NormaliseRegistryHost(firstSegment)
	}
	return "docker.io"
}

// NormaliseRegistryHost folds the various Docker Hub host aliases to the
// canonical "docker.io", matching internal/registry/ratelimit.go's
// NormaliseRegistryHost.
func NormaliseRegistryHost(host string) string {
	switch host {
	case "registry-1.docker.io", "index.docker.io":
		return "docker.io"
	default:
		return host
	}
}

// RepoPath strips the registry host, tag, and digest from an image
// reference, returning the bare repo path (e.g. "library/nginx"),
// adapted from internal/registry/resolve.go's RepoPath. It defaults to
// the "library/" prefix for official single-segment Docker Hub images and
// disambiguates a registry host's ":port" from a tag separator by only
// treating a colon after the last slash as a tag delimiter.
func RepoPath(imageRef string) string {
	ref := imageRef
	if i := strings.Index(ref, "@"); i >= 0 {
		ref = ref[:i]
	}

	lastSlash := strings.LastIndex(ref, "/")
	if lastSlash >= 0 {
		afterSlash := ref[lastSlash+1:]
		if colon := strings.LastIndex(afterSlash, ":"); colon >= 0 {
			ref = ref[:lastSlash+1+colon]
		}
	} else if colon := strings.LastIndex(ref, ":"); colon >= 0 {
		ref = ref[:colon]
	}

	firstSlash := strings.Index(ref, "/")
	if firstSlash < 0 {
		return "library/" + ref
	}
	firstSegment := ref[:firstSlash]
	if strings.ContainsAny(firstSegment, ".:") {
		// Has an explicit registry host: strip it.
		rest := ref[firstSlash+1:]
		if rest == "" {
			return "library/" + ref
		}
		if !strings.Contains(rest, "/") {
			return "library/" + rest
		}
		return rest
	}
	return ref
}

// ReplaceTag substitutes the tag on an image reference, disambiguating a
// registry host's ":port" from the tag separator the same way RepoPath
// does.
func ReplaceTag(imageRef, newTag string) string {
	lastSlash := strings.LastIndex(imageRef, "/")
	afterSlash := imageRef
	prefix := ""
	if lastSlash >= 0 {
		afterSlash = imageRef[lastSlash+1:]
		prefix = imageRef[:lastSlash+1]
	}
	if colon := strings.LastIndex(afterSlash, ":"); colon >= 0 {
		afterSlash = afterSlash[:colon]
	}
	return prefix + afterSlash + ":" + newTag
}
