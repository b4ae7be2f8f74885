package titleparser

import (
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/moistari/rls"
)

var (
	// rls parses a single season/episode; ranges and multi-episode releases need supplements
	seasonRangeRE   = regexp.MustCompile(`(?i)\bs(?:eason)?s?\.?\s*(\d{1,2})\s*(?:-|–|to)\s*s?(?:eason)?\.?\s*(\d{1,2})\b`)
	episodeRangeRE  = regexp.MustCompile(`(?i)\be(?:p(?:isode)?)?\.?\s*(\d{1,4})\s*(?:-|–)\s*e?(?:p(?:isode)?)?\.?\s*(\d{1,4})\b`)
	multiEpisodeRE  = regexp.MustCompile(`(?i)\bs\d{1,2}(e\d{1,4}(?:[-e]+\d{1,4})+)\b`)
	completePackRE  = regexp.MustCompile(`(?i)\b(complete|collection|full\s*season|season\s*pack|batch)\b`)
	upscaledRE      = regexp.MustCompile(`(?i)\b(upscaled?|ai[\s.-]?upscale)\b`)
	uncensoredRE    = regexp.MustCompile(`(?i)\buncensored\b`)
	unratedRE       = regexp.MustCompile(`(?i)\bunrated\b`)
	remasteredRE    = regexp.MustCompile(`(?i)\bremaster(?:ed)?\b`)
	repackRE        = regexp.MustCompile(`(?i)\b(repack|proper|rerip)\b`)
	networkRE       = regexp.MustCompile(`(?i)\b(AMZN|NF|ATVP|DSNP|HULU|HMAX|MAX|PCOK|PMTP|CR|FUNI)\b`)
	videoExtensions = map[string]struct{}{
		"mkv": {}, "mp4": {}, "avi": {}, "m4v": {}, "mov": {}, "mpg": {}, "mpeg": {}, "ts": {}, "m2ts": {}, "wmv": {}, "webm": {},
	}
)

// Parse turns a filename or release-style string into a ParsedFile.
// It's total: any input yields a result, unknown attributes stay unset.
// Same input always yields the same output.
func Parse(s string) ParsedFile {
	if s == "" {
		return ParsedFile{}
	}

	r := rls.ParseString(s)
	pf := ParsedFile{
		Title:        r.Title,
		Year:         r.Year,
		Resolution:   normalizeResolution(r.Resolution),
		Quality:      r.Source,
		ReleaseGroup: r.Group,
		Container:    r.Container,
	}
	if len(r.Codec) > 0 {
		pf.Encode = r.Codec[0]
	}
	if len(r.Cut) > 0 {
		pf.Edition = r.Cut[0]
	} else if len(r.Edition) > 0 {
		pf.Edition = r.Edition[0]
	}
	if r.Series > 0 {
		pf.Seasons = []int{r.Series}
	}
	if r.Episode > 0 {
		pf.Episodes = []int{r.Episode}
	}
	pf.VisualTags = append([]string(nil), r.HDR...)
	pf.AudioTags = append([]string(nil), r.Audio...)
	if r.Channels != "" {
		pf.AudioChannels = []string{r.Channels}
	}
	pf.Languages = append([]string(nil), r.Language...)

	// File extension (rls's Ext is only set for recognized media files)
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(s)), ".")
	if _, ok := videoExtensions[ext]; ok {
		pf.Extension = ext
		if pf.Container == "" {
			pf.Container = ext
		}
	}

	// Supplements rls doesn't model
	if m := seasonRangeRE.FindStringSubmatch(s); m != nil {
		from, _ := strconv.Atoi(m[1])
		to, _ := strconv.Atoi(m[2])
		if from > 0 && to >= from && to-from < 100 {
			var seasons []int
			for n := from; n <= to; n++ {
				seasons = append(seasons, n)
			}
			pf.Seasons = unionInts(pf.Seasons, seasons)
		}
	}
	if m := multiEpisodeRE.FindStringSubmatch(s); m != nil {
		for _, part := range regexp.MustCompile(`\d+`).FindAllString(m[1], -1) {
			if n, err := strconv.Atoi(part); err == nil && n > 0 {
				pf.Episodes = unionInts(pf.Episodes, []int{n})
			}
		}
	} else if m := episodeRangeRE.FindStringSubmatch(s); m != nil {
		from, _ := strconv.Atoi(m[1])
		to, _ := strconv.Atoi(m[2])
		if from > 0 && to >= from && to-from < 1000 {
			var episodes []int
			for n := from; n <= to; n++ {
				episodes = append(episodes, n)
			}
			pf.Episodes = unionInts(pf.Episodes, episodes)
		}
	}

	// A season without episode info is a pack, as is an explicit pack marker
	if len(pf.Seasons) > 0 && len(pf.Episodes) == 0 {
		pf.SeasonPack = true
	}
	if completePackRE.MatchString(s) {
		pf.SeasonPack = true
	}

	pf.Repack = repackRE.MatchString(s) || containsFold(r.Other, "REPACK") || containsFold(r.Other, "PROPER")
	pf.Remastered = remasteredRE.MatchString(s)
	pf.Uncensored = uncensoredRE.MatchString(s)
	pf.Unrated = unratedRE.MatchString(s)
	pf.Upscaled = upscaledRE.MatchString(s)

	if m := networkRE.FindStringSubmatch(s); m != nil {
		pf.Network = strings.ToUpper(m[1])
	}

	return pf
}

func normalizeResolution(res string) string {
	res = strings.ToLower(res)
	switch res {
	case "4k", "2160p", "uhd":
		return "2160p"
	case "1440p", "qhd":
		return "1440p"
	case "1080p", "fhd":
		return "1080p"
	case "720p", "hd":
		return "720p"
	case "576p", "480p", "sd":
		if res == "sd" {
			return "480p"
		}
		return res
	}
	return res
}

func containsFold(set []string, s string) bool {
	for _, v := range set {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
