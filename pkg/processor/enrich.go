package processor

import (
	"strings"

	"github.com/aiostreams/aiostreams/pkg/stream"
	"github.com/aiostreams/aiostreams/pkg/titleparser"
)

// Enrich parses every candidate's release naming into structured
// attributes. The filename is the most reliable source; the folder name
// vouches for attributes the filename omits; the title is the fallback
// for addons that expose nothing else.
func Enrich(streams []stream.Stream) []stream.Stream {
	for i := range streams {
		st := &streams[i]
		if st.Parsed.Title != "" {
			// Already parsed at the source (library items)
			continue
		}

		name := st.Filename
		if name == "" {
			name = firstLine(st.Title)
		}
		file := titleparser.Parse(name)
		if st.FolderName != "" {
			file = titleparser.Merge(file, titleparser.Parse(st.FolderName))
		}
		st.Parsed = file
	}
	return streams
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}
