package parser

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSakuratoSpyFamily(t *testing.T) {
	p := Parse("[Sakurato] Spy x Family (2025) [12][AVC-8 bit 1080p ACC][CHT].mp4")

	require.True(t, p.ParseOK)
	require.Equal(t, "Spy x Family", p.AnimeTitle)
	require.Equal(t, "12", p.EpisodeNumber)
	require.Equal(t, "2025", p.AnimeYear)
	require.Equal(t, "Sakurato", p.ReleaseGroup)
	require.Equal(t, "1080p", p.VideoResolution)
}

func TestParseNeverFails(t *testing.T) {
	p := Parse("")
	require.False(t, p.ParseOK)
	require.Empty(t, p.AnimeTitle)

	p2 := Parse("just_some_random_file_name_without_tags.mkv")
	require.NotPanics(t, func() { Parse("🎬漢字.mkv") })
	_ = p2
}

func TestParseEpisodeSpecial(t *testing.T) {
	p := Parse("[Group] Show - SP [1080p].mkv")
	require.Equal(t, "SP", p.EpisodeNumber)
}

func TestParseDeterministic(t *testing.T) {
	name := "[Group] Show - 05 (2024) [720p].mp4"
	a := Parse(name)
	b := Parse(name)
	require.Equal(t, a, b)
}

func TestEpisodeAsFloat(t *testing.T) {
	v, ok := EpisodeAsFloat("12")
	require.True(t, ok)
	require.Equal(t, 12.0, v)

	v, ok = EpisodeAsFloat("12v2")
	require.True(t, ok)
	require.Equal(t, 12.0, v)

	_, ok = EpisodeAsFloat("SP")
	require.False(t, ok)
}

func TestIsMediaExtension(t *testing.T) {
	require.True(t, IsMediaExtension("mp4"))
	require.True(t, IsMediaExtension(".MKV"))
	require.False(t, IsMediaExtension("txt"))
}
