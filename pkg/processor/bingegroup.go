package processor

import (
	"strings"

	"github.com/aiostreams/aiostreams/pkg/stream"
)

// tagBingeGroups derives a binge group per stream so the player picks a
// matching release for the next episode. With autoplay disabled the
// groups are stripped, including upstream-provided ones.
func (p *Processor) tagBingeGroups(streams []stream.Stream) {
	for i := range streams {
		if !p.opts.AutoPlay {
			streams[i].BingeGroup = ""
			continue
		}
		if streams[i].BingeGroup == "" {
			streams[i].BingeGroup = bingeGroup(streams[i])
		}
	}
}

// bingeGroup buckets a stream by everything that should stay constant
// across an episode's successor: source, picture and encode attributes.
func bingeGroup(st stream.Stream) string {
	parts := []string{"aiostreams", st.Service.ID, string(st.Type)}
	pf := st.Parsed
	if pf.Resolution != "" {
		parts = append(parts, pf.Resolution)
	}
	if pf.Quality != "" {
		parts = append(parts, pf.Quality)
	}
	if pf.Encode != "" {
		parts = append(parts, pf.Encode)
	}
	if pf.ReleaseGroup != "" {
		parts = append(parts, pf.ReleaseGroup)
	}
	return strings.Join(parts, "|")
}
