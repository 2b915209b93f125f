package hls

import (
	"bytes"
	"fmt"
	"sort"
)

// MasterPlaylist builds the master manifest listing renditions in strictly
// descending bandwidth order, regardless of the order given.
func MasterPlaylist(renditions []Rendition) []byte {
	sorted := make([]Rendition, len(renditions))
	copy(sorted, renditions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Bandwidth() > sorted[j].Bandwidth()
	})

	var buf bytes.Buffer
	buf.WriteString("#EXTM3U\n")
	buf.WriteString("#EXT-X-VERSION:3\n")
	for _, r := range sorted {
		fmt.Fprintf(&buf, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%s\n", r.Bandwidth(), r.Resolution())
		buf.WriteString(r.Playlist())
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
