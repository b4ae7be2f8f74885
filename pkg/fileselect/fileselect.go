// Package fileselect picks the file to play from a multi-file download.
// Selection is deterministic: the same download and request always yield
// the same file.
package fileselect

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/aiostreams/aiostreams/pkg/debrid"
	"github.com/aiostreams/aiostreams/pkg/titleparser"
)

// Request describes what the caller wants to play.
type Request struct {
	// Titles the requested item is known under. Empty means any title is
	// accepted.
	Titles []string
	// Episode constraints; the zero value means a movie request.
	Episode titleparser.EpisodeRequest
	// ChosenFilename and ChosenIndex pin a specific file. A pinned file
	// still has to pass the episode constraints; on mismatch the normal
	// algorithm takes over. ChosenIndex is ignored when negative.
	ChosenFilename string
	ChosenIndex    int
}

// NewRequest returns a Request with no file pinned.
func NewRequest(titles []string, episode titleparser.EpisodeRequest) Request {
	return Request{Titles: titles, Episode: episode, ChosenIndex: -1}
}

// IsSeries reports whether the request targets a specific episode.
func (r Request) IsSeries() bool {
	return r.Episode.Episode > 0 || r.Episode.AbsoluteEpisode > 0
}

// Select returns the file to play. For series it must match the requested
// episode; for movies the largest video wins, preferring files whose
// parsed title matches the request. Returns a NO_MATCHING_FILE error when
// nothing qualifies.
func Select(files []debrid.File, req Request) (debrid.File, error) {
	candidates := videoFiles(files)
	if len(candidates) == 0 {
		return debrid.File{}, debrid.NewError(debrid.ErrNoMatchingFile, fmt.Errorf("no video files among %d files", len(files)))
	}

	if chosen, ok := pinnedFile(candidates, req); ok {
		return chosen, nil
	}

	if req.IsSeries() {
		var matching []debrid.File
		for _, f := range candidates {
			if titleparser.MatchesEpisode(parseFile(f), req.Episode) {
				matching = append(matching, f)
			}
		}
		if len(matching) == 0 {
			return debrid.File{}, debrid.NewError(debrid.ErrNoMatchingFile, fmt.Errorf("no file matches S%02dE%02d", req.Episode.Season, req.Episode.Episode))
		}
		return best(matching), nil
	}

	// Movies: prefer title-matching files, fall back to all videos
	if len(req.Titles) > 0 {
		var matching []debrid.File
		for _, f := range candidates {
			if titleparser.Matches(parseFile(f).Title, req.Titles, titleparser.LibraryMatchThreshold) {
				matching = append(matching, f)
			}
		}
		if len(matching) > 0 {
			return best(matching), nil
		}
	}
	return best(candidates), nil
}

// pinnedFile honors an explicit file choice when it passes the episode
// constraints.
func pinnedFile(candidates []debrid.File, req Request) (debrid.File, bool) {
	if req.ChosenFilename == "" && req.ChosenIndex < 0 {
		return debrid.File{}, false
	}
	for _, f := range candidates {
		if req.ChosenFilename != "" && f.Name != req.ChosenFilename && path.Base(f.Path) != req.ChosenFilename {
			continue
		}
		if req.ChosenFilename == "" && f.Index != req.ChosenIndex {
			continue
		}
		if req.IsSeries() && !titleparser.MatchesEpisode(parseFile(f), req.Episode) {
			continue
		}
		return f, true
	}
	return debrid.File{}, false
}

// videoFiles filters to playable video files, dropping samples.
func videoFiles(files []debrid.File) []debrid.File {
	var out []debrid.File
	for _, f := range files {
		pf := titleparser.Parse(f.Name)
		if pf.Extension == "" {
			continue
		}
		if strings.Contains(strings.ToLower(f.Name), "sample") || strings.Contains(strings.ToLower(f.Path), "/sample") {
			continue
		}
		out = append(out, f)
	}
	return out
}

// best orders by size (largest first), then path depth (shallower first),
// then path lexically, and returns the winner.
func best(files []debrid.File) debrid.File {
	sorted := append([]debrid.File(nil), files...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Size != sorted[j].Size {
			return sorted[i].Size > sorted[j].Size
		}
		di, dj := pathDepth(sorted[i]), pathDepth(sorted[j])
		if di != dj {
			return di < dj
		}
		return pathOf(sorted[i]) < pathOf(sorted[j])
	})
	return sorted[0]
}

// parseFile combines what the filename and its parent folders say.
func parseFile(f debrid.File) titleparser.ParsedFile {
	filePF := titleparser.Parse(f.Name)
	dir := path.Dir(f.Path)
	if dir == "." || dir == "/" || dir == "" {
		return filePF
	}
	// The closest folder carries the most specific info
	folderPF := titleparser.Parse(path.Base(dir))
	return titleparser.Merge(filePF, folderPF)
}

func pathOf(f debrid.File) string {
	if f.Path != "" {
		return f.Path
	}
	return f.Name
}

func pathDepth(f debrid.File) int {
	return strings.Count(strings.Trim(pathOf(f), "/"), "/")
}
