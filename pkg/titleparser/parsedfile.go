package titleparser

// ParsedFile holds the structured attributes parsed from a release title or filename.
// Missing attributes remain zero values. Slice fields are sets - their order carries no meaning.
type ParsedFile struct {
	Title        string
	Year         int
	Seasons      []int
	Episodes     []int
	Resolution   string
	Quality      string
	Encode       string
	ReleaseGroup string
	Edition      string
	Repack       bool
	Remastered   bool
	Uncensored   bool
	Unrated      bool
	Upscaled     bool
	Network      string
	Container    string
	Extension    string

	VisualTags    []string
	AudioTags     []string
	AudioChannels []string
	Languages     []string

	// Folder-level attributes, only set on merged results
	FolderSeasons  []int
	FolderEpisodes []int

	// SeasonPack signals a bundle that covers whole seasons,
	// valid for any episode of those seasons.
	SeasonPack bool
}

// Merge combines the parse of a filename with the parse of its containing folder.
// Scalar attributes prefer the file's value, except the title, where the folder
// usually carries the proper release name. Set attributes are union-merged.
func Merge(file, folder ParsedFile) ParsedFile {
	merged := file

	if folder.Title != "" {
		merged.Title = folder.Title
	}
	if merged.Year == 0 {
		merged.Year = folder.Year
	}
	if merged.Resolution == "" {
		merged.Resolution = folder.Resolution
	}
	if merged.Quality == "" {
		merged.Quality = folder.Quality
	}
	if merged.Encode == "" {
		merged.Encode = folder.Encode
	}
	if merged.ReleaseGroup == "" {
		merged.ReleaseGroup = folder.ReleaseGroup
	}
	if merged.Edition == "" {
		merged.Edition = folder.Edition
	}
	if merged.Network == "" {
		merged.Network = folder.Network
	}
	if merged.Container == "" {
		merged.Container = folder.Container
	}

	merged.Repack = merged.Repack || folder.Repack
	merged.Remastered = merged.Remastered || folder.Remastered
	merged.Uncensored = merged.Uncensored || folder.Uncensored
	merged.Unrated = merged.Unrated || folder.Unrated
	merged.Upscaled = merged.Upscaled || folder.Upscaled
	merged.SeasonPack = merged.SeasonPack || folder.SeasonPack

	merged.VisualTags = unionStrings(file.VisualTags, folder.VisualTags)
	merged.AudioTags = unionStrings(file.AudioTags, folder.AudioTags)
	merged.AudioChannels = unionStrings(file.AudioChannels, folder.AudioChannels)
	merged.Languages = unionStrings(file.Languages, folder.Languages)

	merged.FolderSeasons = append([]int(nil), folder.Seasons...)
	merged.FolderEpisodes = append([]int(nil), folder.Episodes...)

	return merged
}

func unionStrings(a, b []string) []string {
	if len(a) == 0 {
		return append([]string(nil), b...)
	}
	if len(b) == 0 {
		return append([]string(nil), a...)
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	var result []string
	for _, s := range a {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			result = append(result, s)
		}
	}
	for _, s := range b {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			result = append(result, s)
		}
	}
	return result
}

func unionInts(a, b []int) []int {
	if len(a) == 0 {
		return append([]int(nil), b...)
	}
	if len(b) == 0 {
		return append([]int(nil), a...)
	}
	seen := make(map[int]struct{}, len(a)+len(b))
	var result []int
	for _, n := range a {
		if _, ok := seen[n]; !ok {
			seen[n] = struct{}{}
			result = append(result, n)
		}
	}
	for _, n := range b {
		if _, ok := seen[n]; !ok {
			seen[n] = struct{}{}
			result = append(result, n)
		}
	}
	return result
}

// containsInt reports whether n is in the set.
func containsInt(set []int, n int) bool {
	for _, v := range set {
		if v == n {
			return true
		}
	}
	return false
}
