package photo

import (
	"path/filepath"
	"strings"
)

// Item is one logical photo or video in the library.
//
// Path is the display-relative identifier used for sorting and for the
// resume tracker. URL is the remote thumbnail URL; empty for local-only
// items. Created and Modified are epoch milliseconds.
type Item struct {
	Path     string `json:"path"`
	URL      string `json:"url,omitempty"`
	Created  int64  `json:"created"`
	Modified int64  `json:"modified"`
	SourceID int64  `json:"sourceId"`
	SpaceID  *int   `json:"spaceId,omitempty"`
}

var videoExts = map[string]bool{
	".mp4":  true,
	".mov":  true,
	".m4v":  true,
	".avi":  true,
	".mkv":  true,
	".webm": true,
}

// IsVideo reports whether the item's path looks like a video file.
// Video playback is handled out-of-band by the display layer.
func IsVideo(path string) bool {
	return videoExts[strings.ToLower(filepath.Ext(path))]
}

// DedupKey identifies an item across spaces for de-duplication.
type DedupKey struct {
	SourceID int64
	SpaceID  int
}

// Key returns the dedup key for an item. A nil SpaceID maps to -1 so it
// cannot collide with a real space id.
func Key(it Item) DedupKey {
	space := -1
	if it.SpaceID != nil {
		space = *it.SpaceID
	}
	return DedupKey{SourceID: it.SourceID, SpaceID: space}
}
