package titleparser

import (
	"regexp"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// LibraryMatchThreshold is the similarity a candidate's cleaned title must
// reach against at least one requested title to be considered a match.
const LibraryMatchThreshold = 0.85

var (
	nonAlnumRE       = regexp.MustCompile(`[^a-z0-9]+`)
	leadingArticleRE = regexp.MustCompile(`^(the|a|an)\s+`)
)

// Normalize lowercases, strips non-alphanumerics, collapses whitespace and
// removes a leading article, so that "The Office (US)" and "office us" compare equal.
func Normalize(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	s = nonAlnumRE.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	s = leadingArticleRE.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

// TokenSetRatio computes a similarity in [0,1] between two strings that's
// insensitive to token order and to tokens present in only one of them
// (the classic fuzzywuzzy token_set_ratio). Symmetric by construction.
func TokenSetRatio(a, b string) float64 {
	tokensA := tokenSet(Normalize(a))
	tokensB := tokenSet(Normalize(b))
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	var common, onlyA, onlyB []string
	for _, t := range tokensA {
		if containsString(tokensB, t) {
			common = append(common, t)
		} else {
			onlyA = append(onlyA, t)
		}
	}
	for _, t := range tokensB {
		if !containsString(tokensA, t) {
			onlyB = append(onlyB, t)
		}
	}

	base := strings.Join(common, " ")
	full1 := strings.TrimSpace(base + " " + strings.Join(onlyA, " "))
	full2 := strings.TrimSpace(base + " " + strings.Join(onlyB, " "))

	r1 := levenshteinRatio(base, full1)
	r2 := levenshteinRatio(base, full2)
	r3 := levenshteinRatio(full1, full2)

	max := r1
	if r2 > max {
		max = r2
	}
	if r3 > max {
		max = r3
	}
	return max
}

// Matches reports whether the candidate title reaches the threshold against
// any of the given titles.
func Matches(candidate string, titles []string, threshold float64) bool {
	if candidate == "" {
		return false
	}
	normCandidate := Normalize(candidate)
	if normCandidate == "" {
		return false
	}
	for _, title := range titles {
		if Normalize(title) == normCandidate {
			return true
		}
		if TokenSetRatio(candidate, title) >= threshold {
			return true
		}
	}
	return false
}

// EpisodeRequest carries the episode numbers a series request can be known under.
type EpisodeRequest struct {
	Season                  int
	Episode                 int
	AbsoluteEpisode         int
	RelativeAbsoluteEpisode int
}

// MatchesEpisode checks the season/episode constraints for a series candidate:
// a declared season set must contain the requested season, a declared episode
// set must contain one of the requested episode numbers, and a season pack
// with no episode info is valid for any episode of its seasons.
func MatchesEpisode(pf ParsedFile, req EpisodeRequest) bool {
	if req.Season > 0 && len(pf.Seasons) > 0 && !containsInt(pf.Seasons, req.Season) {
		// Folder-level seasons can still vouch for the file
		if !containsInt(pf.FolderSeasons, req.Season) {
			return false
		}
	}
	if len(pf.Episodes) > 0 {
		if containsInt(pf.Episodes, req.Episode) && req.Episode > 0 {
			return true
		}
		if containsInt(pf.Episodes, req.AbsoluteEpisode) && req.AbsoluteEpisode > 0 {
			return true
		}
		if containsInt(pf.Episodes, req.RelativeAbsoluteEpisode) && req.RelativeAbsoluteEpisode > 0 {
			return true
		}
		return false
	}
	// No episode info declared: only packs qualify
	return pf.SeasonPack || len(pf.Seasons) > 0 || len(pf.FolderSeasons) > 0
}

// PickLocalized selects the best entry from language-keyed candidates:
// the requested language (left-hand side of the locale), then the original
// language, then English, then the first entry.
func PickLocalized(byLanguage map[string]string, order []string, requested, original string) string {
	if len(byLanguage) == 0 {
		return ""
	}
	if idx := strings.Index(requested, "-"); idx > 0 {
		requested = requested[:idx]
	}
	for _, lang := range []string{requested, original, "en"} {
		if lang == "" {
			continue
		}
		if v, ok := byLanguage[lang]; ok && v != "" {
			return v
		}
	}
	for _, lang := range order {
		if v, ok := byLanguage[lang]; ok && v != "" {
			return v
		}
	}
	return ""
}

func tokenSet(s string) []string {
	fields := strings.Fields(s)
	seen := make(map[string]struct{}, len(fields))
	var tokens []string
	for _, f := range fields {
		if _, ok := seen[f]; !ok {
			seen[f] = struct{}{}
			tokens = append(tokens, f)
		}
	}
	sort.Strings(tokens)
	return tokens
}

func levenshteinRatio(a, b string) float64 {
	if a == "" && b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	dist := fuzzy.LevenshteinDistance(a, b)
	return 1 - float64(dist)/float64(longest)
}

func containsString(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
