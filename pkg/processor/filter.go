package processor

import (
	"regexp"
	"strings"
	"time"

	"github.com/aiostreams/aiostreams/pkg/stream"
	"github.com/aiostreams/aiostreams/pkg/titleparser"
)

// titleMatchThreshold is the minimum similarity between a candidate's
// parsed title and one of the requested titles.
const titleMatchThreshold = 0.85

// ListFilter constrains one attribute. Included overrides everything:
// an included value passes even when excluded or missing from the
// required set.
type ListFilter struct {
	Required []string
	Excluded []string
	Included []string
}

// IsZero reports whether the filter constrains anything.
func (f ListFilter) IsZero() bool {
	return len(f.Required) == 0 && len(f.Excluded) == 0 && len(f.Included) == 0
}

// allows evaluates the candidate's attribute values (a set; scalar
// attributes pass a single element).
func (f ListFilter) allows(values []string) bool {
	if f.IsZero() {
		return true
	}
	for _, v := range values {
		if containsFold(f.Included, v) {
			return true
		}
	}
	for _, v := range values {
		if containsFold(f.Excluded, v) {
			return false
		}
	}
	if len(f.Required) > 0 {
		for _, v := range values {
			if containsFold(f.Required, v) {
				return true
			}
		}
		return false
	}
	return true
}

// SizeRange is a per-resolution size constraint in bytes. Zero bounds
// are open.
type SizeRange struct {
	Min int64
	Max int64
}

func (r SizeRange) allows(size int64) bool {
	if size <= 0 {
		// Unknown size never gets dropped for it
		return true
	}
	if r.Min > 0 && size < r.Min {
		return false
	}
	if r.Max > 0 && size > r.Max {
		return false
	}
	return true
}

// RegexFilters are evaluated against the candidate's canonical string
// (filename + title). Include matches bypass Exclude and Required;
// Preferred and Ranked don't filter, they feed the regex-rank sort key.
type RegexFilters struct {
	Include  []*regexp.Regexp
	Exclude  []*regexp.Regexp
	Required []*regexp.Regexp
	Ranked   []*regexp.Regexp
}

// Filters is the full AND-composed constraint set.
type Filters struct {
	// Titles are the requested titles; candidates that don't match any
	// of them are dropped. Empty disables the title gate.
	Titles []string

	Resolution   ListFilter
	Quality      ListFilter
	Encode       ListFilter
	StreamType   ListFilter
	VisualTag    ListFilter
	AudioTag     ListFilter
	AudioChannel ListFilter
	Language     ListFilter

	// SizeRanges are keyed by resolution ("1080p", ...); the "" entry
	// applies to candidates with no or unlisted resolution.
	SizeRanges map[string]SizeRange

	// MinSeeders drops p2p candidates below the floor.
	MinSeeders int
	// MaxAge drops candidates added longer ago. Zero disables.
	MaxAge time.Duration

	Regex RegexFilters
}

// Filter drops every candidate violating any constraint. Confirmed
// library results still pass through the same gates so a size or
// language preference applies uniformly.
func Filter(streams []stream.Stream, f Filters) []stream.Stream {
	out := streams[:0]
	for _, st := range streams {
		if keep(st, f) {
			out = append(out, st)
		}
	}
	return out
}

func keep(st stream.Stream, f Filters) bool {
	pf := st.Parsed

	if len(f.Titles) > 0 && pf.Title != "" {
		if !titleparser.Matches(pf.Title, f.Titles, titleMatchThreshold) {
			return false
		}
	}

	if !f.Resolution.allows(scalar(pf.Resolution)) ||
		!f.Quality.allows(scalar(pf.Quality)) ||
		!f.Encode.allows(scalar(pf.Encode)) ||
		!f.StreamType.allows(scalar(string(st.Type))) ||
		!f.VisualTag.allows(pf.VisualTags) ||
		!f.AudioTag.allows(pf.AudioTags) ||
		!f.AudioChannel.allows(pf.AudioChannels) ||
		!f.Language.allows(pf.Languages) {
		return false
	}

	if len(f.SizeRanges) > 0 {
		r, ok := f.SizeRanges[pf.Resolution]
		if !ok {
			r = f.SizeRanges[""]
		}
		if !r.allows(st.Size) {
			return false
		}
	}

	if f.MinSeeders > 0 && st.Type == stream.TypeP2P && st.Seeders < f.MinSeeders {
		return false
	}
	if f.MaxAge > 0 && !st.AddedAt.IsZero() && time.Since(st.AddedAt) > f.MaxAge {
		return false
	}

	return regexAllows(canonical(st), f.Regex)
}

func regexAllows(s string, rf RegexFilters) bool {
	for _, re := range rf.Include {
		if re.MatchString(s) {
			return true
		}
	}
	for _, re := range rf.Exclude {
		if re.MatchString(s) {
			return false
		}
	}
	if len(rf.Required) > 0 {
		for _, re := range rf.Required {
			if re.MatchString(s) {
				return true
			}
		}
		return false
	}
	return true
}

// canonical is the string the regex filters and ranks run against.
func canonical(st stream.Stream) string {
	if st.Filename != "" && st.Filename != st.Title {
		return st.Filename + "\n" + st.Title
	}
	return st.Title
}

func scalar(v string) []string {
	if v == "" {
		return nil
	}
	return []string{v}
}

func containsFold(set []string, s string) bool {
	for _, v := range set {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
