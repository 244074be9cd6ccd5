package resolver

import "strings"

// Normalize implements §8's normalization law: lower(trim(stripLeadingV(v))).
// normalize(normalize(v)) == normalize(v) holds because trimming and
// leading-v stripping repeat until the value stops changing.
func Normalize(v string) string {
	for {
		stripped := strings.TrimLeft(strings.TrimSpace(v), "vV")
		if stripped == v {
			return strings.ToLower(v)
		}
		v = stripped
	}
}

// HasUpdate is the single source of truth for "is there an update" (§4.1):
// if both sides carry digests, compare digests exactly; otherwise compare
// versions under Normalize, with equal-normalizations meaning no update
// and unequal-and-both-non-empty meaning an update.
func HasUpdate(currentDigest *string, currentVersion *string, latest Latest) bool {
	if currentDigest != nil && latest.Digest != nil {
		return *currentDigest != *latest.Digest
	}

	var cv string
	if currentVersion != nil {
		cv = *currentVersion
	}
	lv := latest.Tag

	ncv := Normalize(cv)
	nlv := Normalize(lv)
	if ncv == nlv {
		return false
	}
	if ncv != "" && nlv != "" {
		return true
	}
	return false
}
