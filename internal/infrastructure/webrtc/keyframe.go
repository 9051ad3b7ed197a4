package webrtc

import (
	"strings"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"
)

// isKeyframe reports whether pkt starts a keyframe for the given codec.
// Unknown codecs are treated as always switchable.
func isKeyframe(mimeType string, pkt *rtp.Packet) bool {
	if len(pkt.Payload) == 0 {
		return false
	}
	switch {
	case strings.EqualFold(mimeType, webrtc.MimeTypeVP8):
		return isVP8Keyframe(pkt.Payload)
	case strings.EqualFold(mimeType, webrtc.MimeTypeH264):
		return isH264Keyframe(pkt.Payload)
	default:
		return true
	}
}

func isVP8Keyframe(payload []byte) bool {
	var vp8 codecs.VP8Packet
	frame, err := vp8.Unmarshal(payload)
	if err != nil || len(frame) == 0 {
		return false
	}
	// start of partition 0 with the P bit cleared
	return vp8.S == 1 && vp8.PID == 0 && frame[0]&0x01 == 0
}

func isH264Keyframe(payload []byte) bool {
	const (
		nalIDR  = 5
		nalSPS  = 7
		nalSTAP = 24
		nalFUA  = 28
	)

	switch nal := payload[0] & 0x1F; nal {
	case nalIDR, nalSPS:
		return true
	case nalSTAP:
		for i := 1; i+2 < len(payload); {
			size := int(payload[i])<<8 | int(payload[i+1])
			i += 2
			if i >= len(payload) {
				break
			}
			if t := payload[i] & 0x1F; t == nalIDR || t == nalSPS {
				return true
			}
			i += size
		}
		return false
	case nalFUA:
		if len(payload) < 2 {
			return false
		}
		start := payload[1]&0x80 != 0
		return start && payload[1]&0x1F == nalIDR
	default:
		return false
	}
}
