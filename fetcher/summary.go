package fetcher

import (
	"encoding/json"
	"fmt"
	"strings"

	"ewintr.nl/ytsum/model"
)

const maxTranscriptLength = 15000

const summaryPrompt = `Please analyze this YouTube video transcript and provide a summary.

Video Title: %s

Transcript:
%s

Please provide:
1. A concise summary (maximum %d words) that captures the main message and important details
2. A list of %d key takeaways or main points

Format your response as JSON with this structure:
{
    "summary": "Your summary here...",
    "key_points": [
        "First key point",
        "Second key point",
        ...
    ]
}

Focus on:
- Main topics and themes
- Important facts, statistics, or insights
- Actionable takeaways
- Conclusions or recommendations

Keep the language clear and concise.`

func buildPrompt(title, transcript string, maxLength, maxKeyPoints int) string {
	if len(transcript) > maxTranscriptLength {
		cut := maxTranscriptLength
		for cut > 0 && !isRuneStart(transcript[cut]) {
			cut--
		}
		transcript = transcript[:cut] + "... [truncated]"
	}

	return fmt.Sprintf(summaryPrompt, title, transcript, maxLength, maxKeyPoints)
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

type summaryDoc struct {
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points"`
}

// parseSummary reads the model's answer. JSON is expected, but models
// regularly wrap it in a code fence or ignore the format entirely, so a line
// based fallback picks out a summary and bullet points.
func parseSummary(content string, maxKeyPoints int) model.SummaryResult {
	content = strings.TrimSpace(content)
	trimmed := strings.TrimPrefix(content, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, "```"))

	var doc summaryDoc
	if err := json.Unmarshal([]byte(trimmed), &doc); err == nil {
		return model.SummaryResult{
			Text:      strings.TrimSpace(doc.Summary),
			KeyPoints: capPoints(doc.KeyPoints, maxKeyPoints),
		}
	}

	lines := strings.Split(content, "\n")
	summary := ""
	points := []string{}
	inPoints := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		if summary == "" && strings.Contains(lower, "summary") && strings.Contains(line, ":") {
			summary = strings.Trim(strings.TrimSpace(strings.SplitN(line, ":", 2)[1]), `"`)
			continue
		}
		if strings.Contains(lower, "key") && strings.Contains(lower, "point") {
			inPoints = true
			continue
		}
		if inPoints {
			if point := bulletText(line); len(point) > 10 {
				points = append(points, point)
			}
		}
	}

	if summary == "" {
		summary = strings.TrimSpace(strings.SplitN(content, "\n\n", 2)[0])
	}
	if len(points) == 0 {
		for _, line := range lines {
			line = strings.TrimSpace(line)
			if !isBullet(line) {
				continue
			}
			if point := bulletText(line); len(point) > 10 {
				points = append(points, point)
			}
		}
	}

	return model.SummaryResult{
		Text:      summary,
		KeyPoints: capPoints(points, maxKeyPoints),
	}
}

func isBullet(line string) bool {
	if strings.HasPrefix(line, "-") || strings.HasPrefix(line, "*") || strings.HasPrefix(line, "•") {
		return true
	}
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}

	return i > 0 && i < len(line) && (line[i] == '.' || line[i] == ')')
}

func bulletText(line string) string {
	return strings.Trim(strings.TrimLeft(line, "-•*0123456789.() "), `"`)
}

func capPoints(points []string, max int) []string {
	res := []string{}
	for _, p := range points {
		if p = strings.TrimSpace(p); p != "" {
			res = append(res, p)
		}
	}
	if max > 0 && len(res) > max {
		res = res[:max]
	}

	return res
}
