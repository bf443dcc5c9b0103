package models

import (
	"net/url"
	"regexp"
)

var modelIDPattern = regexp.MustCompile(`/models/(\d+)`)

// ParseReference extracts the model id and the optional modelVersionId query
// parameter from a catalog page URL. ok is false when no model id is present.
func ParseReference(rawURL string) (ref ModelReference, ok bool) {
	m := modelIDPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return ModelReference{URL: rawURL}, false
	}
	ref = ModelReference{URL: rawURL, ModelID: m[1]}
	if u, err := url.Parse(rawURL); err == nil {
		ref.VersionID = u.Query().Get("modelVersionId")
	}
	return ref, true
}
