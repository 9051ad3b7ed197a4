package recording

import (
	"fmt"
	"math"
	"path"
	"strings"
	"time"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
)

const (
	ManifestName         = "index.m3u8"
	MasterName           = "master.m3u8"
	CaptionsName         = "captions.vtt"
	CaptionsPlaylistName = "captions.m3u8"
)

func contentType(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	case ".m4s":
		return "video/iso.segment"
	case ".mp4":
		return "video/mp4"
	case ".vtt":
		return "text/vtt"
	default:
		return "application/octet-stream"
	}
}

// masterPlaylist describes the recorded rendition and, when present, the
// chat caption track.
func masterPlaylist(layer domain.SimulcastLayer, withCaptions bool) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	streamInf := fmt.Sprintf("#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d,FRAME-RATE=%d",
		layer.TargetBitrate*1000, layer.Width, layer.Height, layer.Framerate)
	if withCaptions {
		fmt.Fprintf(&b, "#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID=\"chat\",NAME=\"Chat\",LANGUAGE=\"und\",DEFAULT=NO,AUTOSELECT=NO,URI=\"%s\"\n", CaptionsPlaylistName)
		streamInf += ",SUBTITLES=\"chat\""
	}
	b.WriteString(streamInf + "\n")
	b.WriteString(ManifestName + "\n")
	return b.String()
}

// captionsPlaylist wraps the single WebVTT file as a VOD subtitle playlist.
func captionsPlaylist(duration time.Duration) string {
	seconds := duration.Seconds()
	if seconds < 1 {
		seconds = 1
	}

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", int(math.Ceil(seconds)))
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	fmt.Fprintf(&b, "#EXTINF:%.3f,\n", seconds)
	b.WriteString(CaptionsName + "\n")
	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}
