package recording

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/verawat1234/tchat-sub013/internal/core/domain"
	"github.com/verawat1234/tchat-sub013/pkg/utils"
)

const defaultCueDuration = 4 * time.Second

var vttEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// buildWebVTT renders chat messages sent between start and end as timed
// cues, each shown for cueDuration from the moment it was sent.
func buildWebVTT(messages []domain.ChatMessage, start, end time.Time, cueDuration time.Duration) []byte {
	if cueDuration <= 0 {
		cueDuration = defaultCueDuration
	}

	sorted := make([]domain.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Timestamp.Before(start) || (!end.IsZero() && m.Timestamp.After(end)) {
			continue
		}
		sorted = append(sorted, m)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var b strings.Builder
	b.WriteString("WEBVTT\n")
	cue := 0
	for _, m := range sorted {
		text := strings.Join(strings.Fields(m.Text), " ")
		if text == "" {
			continue
		}
		cue++
		from := m.Timestamp.Sub(start)
		to := from + cueDuration
		if !end.IsZero() && to > end.Sub(start) {
			to = end.Sub(start)
		}

		b.WriteString("\n")
		b.WriteString(strconv.Itoa(cue))
		b.WriteString("\n")
		b.WriteString(utils.SegmentTimestamp(from))
		b.WriteString(" --> ")
		b.WriteString(utils.SegmentTimestamp(to))
		b.WriteString("\n<v ")
		b.WriteString(vttEscaper.Replace(string(m.UserID)))
		b.WriteString(">")
		b.WriteString(vttEscaper.Replace(text))
		b.WriteString("\n")
	}
	return []byte(b.String())
}
