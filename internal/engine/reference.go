package engine

import (
	"path"

	"github.com/distribution/reference"
)

// MatchesReference reports whether uri names one of repoTags.
//
// A tag matches when it normalizes to the same reference as uri, or when its
// short form (last path segment and tag) equals that of uri. The short form
// lets a registry-qualified uri such as "123.dkr.ecr.eu-west-1.amazonaws.com/team/api:1.2"
// match a local image tagged "api:1.2".
func MatchesReference(uri string, repoTags []string) bool {
	full, short := normalizeReference(uri)
	for _, tag := range repoTags {
		tagFull, tagShort := normalizeReference(tag)
		if tag == uri || tagFull == full || tagShort == short {
			return true
		}
	}
	return false
}

// normalizeReference returns the fully qualified form of ref (with an
// implied ":latest") and its short form. Unparseable references are returned as-is.
func normalizeReference(ref string) (full, short string) {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return ref, ref
	}
	named = reference.TagNameOnly(named)

	short = path.Base(reference.Path(named))
	if tagged, ok := named.(reference.Tagged); ok {
		short += ":" + tagged.Tag()
	}
	return named.String(), short
}
