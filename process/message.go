package process

import (
	"fmt"
	"strings"

	"ewintr.nl/ytsum/model"
)

// telegram refuses messages over 4096 characters
const maxMessageLength = 4000

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "[", "\\[", "`", "\\`")

// FormatMessage renders the notification text for a new summary, using
// Telegram's legacy Markdown.
func FormatMessage(s model.Summarizable, summary *model.Summary, summaryURL string) string {
	var head strings.Builder
	head.WriteString("🎥 *New Summary Available*\n\n")
	fmt.Fprintf(&head, "*%s*\n", markdownEscaper.Replace(s.Video.Title))
	if s.ChannelTitle != "" {
		fmt.Fprintf(&head, "Channel: %s\n", markdownEscaper.Replace(s.ChannelTitle))
	}
	if s.Video.Duration != "" {
		fmt.Fprintf(&head, "Duration: %s\n", FormatDuration(s.Video.Duration))
	}

	var foot strings.Builder
	fmt.Fprintf(&foot, "\n[Watch Video](%s)", s.Video.URL)
	if summaryURL != "" {
		fmt.Fprintf(&foot, "\n[View Summary](%s/video/%s)", strings.TrimSuffix(summaryURL, "/"), s.Video.ID)
	}

	var body strings.Builder
	body.WriteString("\n")
	body.WriteString(markdownEscaper.Replace(summary.Text))
	body.WriteString("\n")
	for _, kp := range summary.KeyPoints {
		fmt.Fprintf(&body, "\n• %s", markdownEscaper.Replace(kp))
	}
	if len(summary.KeyPoints) > 0 {
		body.WriteString("\n")
	}

	text := body.String()
	room := maxMessageLength - len([]rune(head.String())) - len([]rune(foot.String()))
	switch runes := []rune(text); {
	case room < 2:
		text = "\n"
	case len(runes) > room:
		text = string(runes[:room-2]) + "…\n"
	}

	return head.String() + text + foot.String()
}

// FormatDuration turns an ISO 8601 duration like PT1H2M3S into 1:02:03.
// Anything it does not understand is returned as is.
func FormatDuration(iso string) string {
	if !strings.HasPrefix(iso, "PT") {
		return iso
	}
	var h, m, s int
	num := 0
	seen := false
	for _, r := range iso[2:] {
		switch {
		case r >= '0' && r <= '9':
			num = num*10 + int(r-'0')
			seen = true
			continue
		case r == 'H':
			h = num
		case r == 'M':
			m = num
		case r == 'S':
			s = num
		default:
			return iso
		}
		num = 0
	}
	if !seen {
		return iso
	}
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}

	return fmt.Sprintf("%d:%02d", m, s)
}
