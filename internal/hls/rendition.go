// Package hls describes the fixed rendition ladder and builds the master
// playlist that references each rendition's media playlist.
package hls

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Content types for published artifacts.
const (
	ContentTypePlaylist  = "application/vnd.apple.mpegurl"
	ContentTypeSegment   = "video/mp2t"
	ContentTypeThumbnail = "image/jpeg"
	ContentTypeAudio     = "audio/wav"
	ContentTypeJSON      = "application/json"
)

// MasterPlaylistName is the file name of the master manifest.
const MasterPlaylistName = "master.m3u8"

// Rendition is one quality level of the HLS ladder.
type Rendition struct {
	// Name is used for the playlist and segment file names.
	Name string
	// Height is the target frame height; width follows the source aspect.
	Height int
	// VideoBitrate is the encoder bitrate, e.g. "6000k".
	VideoBitrate string
}

// Ladder is the fixed set of renditions produced for every video.
var Ladder = []Rendition{
	{Name: "high", Height: 1080, VideoBitrate: "6000k"},
	{Name: "medium", Height: 720, VideoBitrate: "4000k"},
	{Name: "low", Height: 480, VideoBitrate: "2000k"},
}

// Bandwidth returns the bitrate in bits per second. Suffixes k and M are
// decimal multipliers; an unparseable bitrate yields 0.
func (r Rendition) Bandwidth() int {
	s := strings.TrimSpace(r.VideoBitrate)
	mult := 1
	switch {
	case strings.HasSuffix(s, "k"), strings.HasSuffix(s, "K"):
		mult = 1000
		s = s[:len(s)-1]
	case strings.HasSuffix(s, "M"), strings.HasSuffix(s, "m"):
		mult = 1000 * 1000
		s = s[:len(s)-1]
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n * mult
}

// Width returns the 16:9 width for Height, rounded to an even number the
// way the scale filter's -2 does.
func (r Rendition) Width() int {
	return int(math.Round(float64(r.Height)*16/9/2)) * 2
}

// Resolution returns the WxH string used in the master playlist.
func (r Rendition) Resolution() string {
	return fmt.Sprintf("%dx%d", r.Width(), r.Height)
}

// Playlist returns the media playlist file name.
func (r Rendition) Playlist() string {
	return r.Name + ".m3u8"
}

// SegmentPattern returns the printf-style segment file name pattern.
func (r Rendition) SegmentPattern() string {
	return r.Name + "%03d.ts"
}

// IsSegment reports whether file is a segment of this rendition.
func (r Rendition) IsSegment(file string) bool {
	return strings.HasPrefix(file, r.Name) && strings.HasSuffix(file, ".ts")
}
