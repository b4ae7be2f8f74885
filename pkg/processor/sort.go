package processor

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/aiostreams/aiostreams/pkg/stream"
)

// SortKey names one sortable stream attribute.
type SortKey string

const (
	KeyCached         SortKey = "cached"
	KeyLibrary        SortKey = "library"
	KeyService        SortKey = "service"
	KeyResolution     SortKey = "resolution"
	KeySize           SortKey = "size"
	KeyQuality        SortKey = "quality"
	KeySeeders        SortKey = "seeders"
	KeyLanguage       SortKey = "language"
	KeyVisualTag      SortKey = "visualTag"
	KeyAudioChannel   SortKey = "audioChannel"
	KeyRegexRank      SortKey = "regexRank"
	KeyExpressionRank SortKey = "streamExpressionRank"
)

// SortCriterion is one user-ordered sort key with its direction.
// Descending puts the larger score first; for rank-type keys (service,
// language, regexRank, streamExpressionRank) the score is the position
// in the user's preference list, so those sort ascending.
type SortCriterion struct {
	Key        SortKey
	Descending bool
}

// SortOptions carry the criteria plus the preference orders the
// rank-type keys score against.
type SortOptions struct {
	Criteria       []SortCriterion
	ServiceOrder   []string
	LanguageOrder  []string
	VisualTagOrder []string
	// Ranked regexes score candidates by the first pattern that
	// matches (earlier = better).
	Ranked []*regexp.Regexp
	// Expressions score candidates by the first expression that
	// evaluates to true (earlier = better).
	Expressions []*vm.Program
}

// DefaultSort prefers instantly playable results, then picture quality,
// then size.
var DefaultSort = []SortCriterion{
	{Key: KeyLibrary, Descending: true},
	{Key: KeyCached, Descending: true},
	{Key: KeyResolution, Descending: true},
	{Key: KeySize, Descending: true},
}

// CompileExpression compiles a user sort expression. The expression
// sees the stream's attributes as variables and must yield a boolean.
func CompileExpression(code string) (*vm.Program, error) {
	return expr.Compile(code, expr.AsBool(), expr.AllowUndefinedVariables())
}

// Sort orders streams by the criteria, stably: candidates equal on all
// keys keep their relative input order.
func Sort(streams []stream.Stream, opts SortOptions) {
	criteria := opts.Criteria
	if len(criteria) == 0 {
		criteria = DefaultSort
	}

	// Scores are computed once per stream so regexes and expressions
	// don't re-run inside the comparator.
	scores := make([][]float64, len(streams))
	for i := range streams {
		scores[i] = make([]float64, len(criteria))
		for j, c := range criteria {
			scores[i][j] = score(streams[i], c.Key, opts)
		}
	}

	indexes := make([]int, len(streams))
	for i := range indexes {
		indexes[i] = i
	}
	sort.SliceStable(indexes, func(a, b int) bool {
		ia, ib := indexes[a], indexes[b]
		for j, c := range criteria {
			sa, sb := scores[ia][j], scores[ib][j]
			if sa == sb {
				continue
			}
			if c.Descending {
				return sa > sb
			}
			return sa < sb
		}
		return false
	})

	sorted := make([]stream.Stream, len(streams))
	for i, idx := range indexes {
		sorted[i] = streams[idx]
	}
	copy(streams, sorted)
}

func score(st stream.Stream, key SortKey, opts SortOptions) float64 {
	switch key {
	case KeyCached:
		if st.Service.Cached {
			return 1
		}
		return 0
	case KeyLibrary:
		if st.Library {
			return 1
		}
		return 0
	case KeyService:
		return float64(indexOf(opts.ServiceOrder, st.Service.ID))
	case KeyResolution:
		return float64(resolutionRank(st.Parsed.Resolution))
	case KeySize:
		return float64(st.Size)
	case KeyQuality:
		return float64(qualityRank(st.Parsed.Quality))
	case KeySeeders:
		return float64(st.Seeders)
	case KeyLanguage:
		return float64(firstIndexOf(opts.LanguageOrder, st.Parsed.Languages))
	case KeyVisualTag:
		return float64(firstIndexOf(opts.VisualTagOrder, st.Parsed.VisualTags))
	case KeyAudioChannel:
		return maxChannels(st.Parsed.AudioChannels)
	case KeyRegexRank:
		s := canonical(st)
		for i, re := range opts.Ranked {
			if re.MatchString(s) {
				return float64(i)
			}
		}
		return float64(len(opts.Ranked))
	case KeyExpressionRank:
		env := exprEnv(st)
		for i, program := range opts.Expressions {
			out, err := expr.Run(program, env)
			if err == nil {
				if matched, ok := out.(bool); ok && matched {
					return float64(i)
				}
			}
		}
		return float64(len(opts.Expressions))
	}
	return 0
}

// exprEnv exposes a stream's attributes to user sort expressions.
func exprEnv(st stream.Stream) map[string]interface{} {
	return map[string]interface{}{
		"addon":        st.Addon,
		"type":         string(st.Type),
		"service":      st.Service.ID,
		"cached":       st.Service.Cached,
		"library":      st.Library,
		"infoHash":     st.InfoHash,
		"filename":     st.Filename,
		"size":         st.Size,
		"seeders":      st.Seeders,
		"title":        st.Parsed.Title,
		"year":         st.Parsed.Year,
		"resolution":   st.Parsed.Resolution,
		"quality":      st.Parsed.Quality,
		"encode":       st.Parsed.Encode,
		"releaseGroup": st.Parsed.ReleaseGroup,
		"visualTags":   st.Parsed.VisualTags,
		"audioTags":    st.Parsed.AudioTags,
		"languages":    st.Parsed.Languages,
	}
}

// resolutionRank maps a resolution to its pixel height so "higher is
// better" works with a descending sort.
func resolutionRank(resolution string) int {
	switch strings.ToLower(resolution) {
	case "2160p", "4k":
		return 2160
	case "1440p":
		return 1440
	case "1080p":
		return 1080
	case "720p":
		return 720
	case "576p":
		return 576
	case "480p":
		return 480
	}
	return 0
}

var qualityOrder = []string{"BluRay REMUX", "BluRay", "WEB-DL", "WEBRip", "HDTV", "DVDRip", "HDRip", "CAM"}

func qualityRank(quality string) int {
	for i, q := range qualityOrder {
		if strings.EqualFold(q, quality) {
			return len(qualityOrder) - i
		}
	}
	return 0
}

// maxChannels parses audio channel layouts like "7.1" or "5.1" and
// returns the largest total channel count.
func maxChannels(channels []string) float64 {
	max := 0.0
	for _, c := range channels {
		parts := strings.SplitN(c, ".", 2)
		total := 0.0
		if n, err := strconv.Atoi(parts[0]); err == nil {
			total = float64(n)
		}
		if len(parts) == 2 {
			if n, err := strconv.Atoi(parts[1]); err == nil {
				total += float64(n) / 10
			}
		}
		if total > max {
			max = total
		}
	}
	return max
}

func indexOf(order []string, v string) int {
	for i, o := range order {
		if strings.EqualFold(o, v) {
			return i
		}
	}
	return len(order)
}

// firstIndexOf returns the best (lowest) preference-list position among
// the candidate's values.
func firstIndexOf(order []string, values []string) int {
	best := len(order)
	for _, v := range values {
		if i := indexOf(order, v); i < best {
			best = i
		}
	}
	return best
}
