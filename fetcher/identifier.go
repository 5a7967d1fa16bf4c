package fetcher

import (
	"fmt"
	"regexp"
	"strings"

	"ewintr.nl/ytsum/model"
)

type IdentifierKind string

const (
	KindChannelID IdentifierKind = "id"
	KindHandle    IdentifierKind = "handle"
	KindCustom    IdentifierKind = "custom"
	KindUser      IdentifierKind = "user"
)

type ChannelIdentifier struct {
	Kind  IdentifierKind
	Value string
}

var identifierPatterns = []struct {
	kind IdentifierKind
	re   *regexp.Regexp
}{
	{KindChannelID, regexp.MustCompile(`youtube\.com/channel/(UC[\w-]+)`)},
	{KindCustom, regexp.MustCompile(`youtube\.com/c/([\w-]+)`)},
	{KindHandle, regexp.MustCompile(`youtube\.com/@([\w.-]+)`)},
	{KindUser, regexp.MustCompile(`youtube\.com/user/([\w-]+)`)},
}

// ParseChannelIdentifier accepts a channel id, a handle or one of the usual
// channel URL forms.
func ParseChannelIdentifier(s string) (ChannelIdentifier, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return ChannelIdentifier{}, fmt.Errorf("empty channel identifier: %w", model.ErrNotFound)
	case strings.HasPrefix(s, "UC") && len(s) == 24:
		return ChannelIdentifier{Kind: KindChannelID, Value: s}, nil
	case strings.HasPrefix(s, "@"):
		return ChannelIdentifier{Kind: KindHandle, Value: strings.TrimPrefix(s, "@")}, nil
	}

	for _, p := range identifierPatterns {
		if m := p.re.FindStringSubmatch(s); m != nil {
			return ChannelIdentifier{Kind: p.kind, Value: m[1]}, nil
		}
	}
	if strings.Contains(s, "/") {
		return ChannelIdentifier{}, fmt.Errorf("unrecognized channel url %q: %w", s, model.ErrNotFound)
	}

	return ChannelIdentifier{Kind: KindCustom, Value: s}, nil
}

func (ci ChannelIdentifier) String() string {
	return string(ci.Kind) + ":" + ci.Value
}
