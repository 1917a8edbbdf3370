package scan

import (
	"fmt"

	"github.com/plexmount/plexmount/internal/catalog"
)

// sanitizeName replaces characters that are invalid in file paths.
func sanitizeName(name string) string {
	var result []rune
	for _, r := range name {
		switch r {
		case '/', '\\', ':', '|':
			result = append(result, '-')
		case '*', '?', '<', '>':
			// Skip these characters
		case '"':
			result = append(result, '\'')
		default:
			result = append(result, r)
		}
	}
	return string(result)
}

// movieFileName renders a movie as "Title (Year).ext". The year is
// omitted when the catalog has none.
func movieFileName(it catalog.Item) string {
	name := sanitizeName(it.Title)
	if it.Year > 0 {
		name = fmt.Sprintf("%s (%d)", name, it.Year)
	}
	return name + it.File.Ext
}

// seasonDirName renders a season directory as "Season NN".
func seasonDirName(season int) string {
	return fmt.Sprintf("Season %02d", season)
}

// episodeFileName renders an episode as "SnnEnn - Title.ext". Untitled
// episodes fall back to "Episode N".
func episodeFileName(ep catalog.Episode) string {
	title := ep.Title
	if title == "" {
		title = fmt.Sprintf("Episode %d", ep.Number)
	}
	return fmt.Sprintf("S%02dE%02d - %s%s", ep.Season, ep.Number, sanitizeName(title), ep.File.Ext)
}
