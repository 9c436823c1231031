package subscriptions

import (
	"testing"

	"github.com/stretchr/testify/require"
	e "nuclight.org/relay-tg-bot/pkg/entities"
)

func TestParseLink(t *testing.T) {
	tests := []struct {
		raw     string
		want    Link
		wantErr bool
	}{
		{raw: "@News_Channel", want: Link{Username: "news_channel"}},
		{raw: "https://t.me/news_channel", want: Link{Username: "news_channel"}},
		{raw: "http://t.me/news_channel/", want: Link{Username: "news_channel"}},
		{raw: "t.me/news_channel", want: Link{Username: "news_channel"}},
		{raw: "https://telegram.me/news_channel", want: Link{Username: "news_channel"}},
		{raw: "https://t.me/joinchat/AAAAAEHbEkejzxUjAUCzYA", want: Link{InviteHash: "AAAAAEHbEkejzxUjAUCzYA"}},
		{raw: "https://t.me/+Xy1_z-AbCdEf", want: Link{InviteHash: "Xy1_z-AbCdEf"}},
		{raw: "@ab", wantErr: true},
		{raw: "@1channel", wantErr: true},
		{raw: "https://example.com/news", wantErr: true},
		{raw: "https://t.me/+short", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseLink(tt.raw)
			if tt.wantErr {
				require.ErrorIs(t, err, e.ErrInvalidLink)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestLinkString(t *testing.T) {
	require.Equal(t, "@news", Link{Username: "news"}.String())
	require.Equal(t, "https://t.me/+AbCdEfGh12", Link{InviteHash: "AbCdEfGh12"}.String())
}

func TestExtractLinks(t *testing.T) {
	links, invalid := ExtractLinks("please add @news_channel and https://t.me/News_Channel, also t.me/+AbCdEfGh12 and @ab")

	require.Equal(t, []Link{
		{Username: "news_channel"},
		{InviteHash: "AbCdEfGh12"},
	}, links)
	require.Equal(t, []string{"@ab"}, invalid)
}

func TestExtractLinksNone(t *testing.T) {
	links, invalid := ExtractLinks("hello there")
	require.Empty(t, links)
	require.Empty(t, invalid)
}
