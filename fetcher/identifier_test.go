package fetcher

import (
	"testing"

	"ewintr.nl/ytsum/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChannelIdentifier(t *testing.T) {
	for _, tc := range []struct {
		in  string
		exp ChannelIdentifier
	}{
		{in: "UC_x5XG1OV2P6uZZ5FSM9Ttw", exp: ChannelIdentifier{Kind: KindChannelID, Value: "UC_x5XG1OV2P6uZZ5FSM9Ttw"}},
		{in: "https://www.youtube.com/channel/UC_x5XG1OV2P6uZZ5FSM9Ttw", exp: ChannelIdentifier{Kind: KindChannelID, Value: "UC_x5XG1OV2P6uZZ5FSM9Ttw"}},
		{in: " https://youtube.com/@GoogleDevelopers ", exp: ChannelIdentifier{Kind: KindHandle, Value: "GoogleDevelopers"}},
		{in: "@gopher", exp: ChannelIdentifier{Kind: KindHandle, Value: "gopher"}},
		{in: "https://www.youtube.com/c/golang", exp: ChannelIdentifier{Kind: KindCustom, Value: "golang"}},
		{in: "https://www.youtube.com/user/someuser", exp: ChannelIdentifier{Kind: KindUser, Value: "someuser"}},
		{in: "golang", exp: ChannelIdentifier{Kind: KindCustom, Value: "golang"}},
	} {
		t.Run(tc.in, func(t *testing.T) {
			act, err := ParseChannelIdentifier(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.exp, act)
		})
	}

	for _, in := range []string{"", "   ", "https://example.com/whatever"} {
		_, err := ParseChannelIdentifier(in)
		assert.ErrorIs(t, err, model.ErrNotFound, in)
	}
}
