package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/codebuildervaibhav/longform-transcriber/internal/types"
)

// RenderText renders one line per segment: "[00:01:02-00:01:05] text"
func RenderText(log *types.ResultLog) string {
	var b strings.Builder
	for _, w := range log.Windows {
		for _, s := range w.Segments {
			text := strings.TrimSpace(s.Text)
			if text == "" {
				continue
			}
			fmt.Fprintf(&b, "[%s-%s] %s\n", FormatTimestamp(s.Start), FormatTimestamp(s.End), text)
		}
	}
	return b.String()
}

// FormatTimestamp formats seconds as hh:mm:ss
func FormatTimestamp(sec float64) string {
	d := time.Duration(sec*1000) * time.Millisecond
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
