// Package manifest implements C7: the per-database versioned manifest
// manager and its alias pointers.
package manifest

import (
	"regexp"
	"strings"

	"github.com/talaria-bio/herald/internal/herr"
)

var identifierRE = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ReservedCurrent and ReservedLatest are the two alias names every
// (source, dataset) always carries, always pointing at the newest
// successfully installed manifest (spec.md §3, §4.7).
const (
	ReservedCurrent = "current"
	ReservedLatest  = "latest"
)

// Reference is a parsed DatabaseReference:
// source/dataset[@version][:profile][#variant]. version defaults to
// the reserved "current" alias when omitted; profile and variant are
// opaque to this core, carried only for the reduction engine
// (spec.md §4.7, §6).
type Reference struct {
	Source  string
	Dataset string
	Version string // alias name or YYYYMMDD_HHMMSS timestamp
	Profile string // opaque; "" if absent
	Variant string // opaque; "" if absent
}

// ParseReference parses the external form
// "source/dataset[@version][:profile][#variant]".
func ParseReference(s string) (Reference, error) {
	rest := s

	var variant string
	if i := strings.IndexByte(rest, '#'); i >= 0 {
		variant = rest[i+1:]
		rest = rest[:i]
	}

	var profile string
	if i := strings.IndexByte(rest, ':'); i >= 0 {
		profile = rest[i+1:]
		rest = rest[:i]
	}

	var version string
	if i := strings.IndexByte(rest, '@'); i >= 0 {
		version = rest[i+1:]
		rest = rest[:i]
	} else {
		version = ReservedCurrent
	}

	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return Reference{}, herr.New(herr.KindInvalidInput, "manifest.ParseReference", s)
	}
	source, dataset := rest[:slash], rest[slash+1:]

	if !identifierRE.MatchString(source) || !identifierRE.MatchString(dataset) {
		return Reference{}, herr.New(herr.KindInvalidInput, "manifest.ParseReference", s)
	}
	if version != ReservedCurrent && version != ReservedLatest && !identifierRE.MatchString(version) && !isTimestamp(version) {
		return Reference{}, herr.New(herr.KindInvalidInput, "manifest.ParseReference", s)
	}

	return Reference{Source: source, Dataset: dataset, Version: version, Profile: profile, Variant: variant}, nil
}

var timestampRE = regexp.MustCompile(`^\d{8}_\d{6}$`)

func isTimestamp(s string) bool { return timestampRE.MatchString(s) }

func (r Reference) String() string {
	out := r.Source + "/" + r.Dataset
	if r.Version != "" && r.Version != ReservedCurrent {
		out += "@" + r.Version
	}
	if r.Profile != "" {
		out += ":" + r.Profile
	}
	if r.Variant != "" {
		out += "#" + r.Variant
	}
	return out
}
