// Package parser extracts structured fields from anime release filenames.
// Parse never fails: malformed names simply yield ParseOK=false with
// whatever partial fields were detected.
package parser

import (
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// RawElement records one detected (category, value) pair in the order it
// was found in the filename, regardless of whether it mapped to a typed field.
type RawElement struct {
	Category string
	Value string
}

// ParsedMedia is the result of parsing a single filename.
type ParsedMedia struct {
	ParseOK bool

	AnimeTitle string
	EpisodeNumber string
	EpisodeNumberAlt string
	EpisodeTitle string
	AnimeSeason string
	AnimeYear string
	ReleaseGroup string
	VideoResolution string
	Source string
	AudioTerm string
	VideoTerm string
	Subtitles string // comma-joined
	Language string // comma-joined
	RawElements []RawElement
}

var (
	// [Group] prefix, e.g. "[Sakurato] Spy x Family..."
	reGroup = regexp.MustCompile(`^\[([^\]]+)\]\s*`)

	// bracketed tag groups anywhere in the name, e.g. "[1080p]" "[AVC-8bit]"
	reBracketTag = regexp.MustCompile(`\[([^\]]+)\]`)
	reParenTag = regexp.MustCompile(`\(([^)]+)\)`)

	reYear = regexp.MustCompile(`\b(19[5-9]\d|20\d{2})\b`)
	reSeason = regexp.MustCompile(`(?i)\bS(?:eason)?\s?0*([0-9]{1,2})\b`)
	reResolution = regexp.MustCompile(`(?i)\b(480|540|576|720|1080|1440|2160)p\b`)
	reSource = regexp.MustCompile(`(?i)\b(BD|BDRip|Blu-?Ray|WEB(?:-?DL|Rip)?|DVD|HDTV|TV)\b`)
	reVideoTerm = regexp.MustCompile(`(?i)\b(AVC|HEVC|x264|x265|H\.?264|H\.?265|10-?bit|8-?bit)\b`)
	reAudioTerm = regexp.MustCompile(`(?i)\b(AAC|FLAC|AC3|EAC3|DTS|Opus)\b`)
	reLanguage = regexp.MustCompile(`(?i)\b(JPN|ENG|CHS|CHT|GER|FRA|KOR)\b`)

	// Episode numbers: "- 12", "[12]", "E12", "12v2", handled with priority order.
	reEpisodeBracket = regexp.MustCompile(`\[(\d{1,4}(?:v\d)?)\]`)
	reEpisodeDash = regexp.MustCompile(`-\s*(\d{1,4}(?:v\d)?)\b`)
	reEpisodeE = regexp.MustCompile(`(?i)\bE(?:p(?:isode)?)?\s?0*(\d{1,4}(?:v\d)?)\b`)
	reEpisodeSpecial = regexp.MustCompile(`(?i)\b(SP|OVA|NCED|NCOP)\b`)
)

var subtitleExts = map[string]bool{"ass": true, "srt": true, "sub": true}
var mediaExts = map[string]bool{"mp4": true, "mkv": true}

// Parse extracts fields from filename per the component's field set.
// Parsing proceeds in detection order so RawElements preserves a human-
// readable trace of what was matched and consumed.
func Parse(filename string) ParsedMedia {
	base := filename
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(base)), ".")
	base = strings.TrimSuffix(base, filepath.Ext(base))

	p := ParsedMedia{}
	remaining := base

	if m := reGroup.FindStringSubmatch(remaining); m != nil {
		p.ReleaseGroup = strings.TrimSpace(m[1])
		p.RawElements = append(p.RawElements, RawElement{"release_group", p.ReleaseGroup})
		remaining = remaining[len(m[0]):]
	}

	// Collect every bracket/paren tag up front; classify each by content.
	tagSpans := collectTagSpans(remaining)
	var consumedRanges [][2]int
	for _, span := range tagSpans {
		tag := remaining[span[0]+1 : span[1]-1]
		classified := classifyTag(&p, tag)
		if classified {
			consumedRanges = append(consumedRanges, span)
		}
	}

	// Episode number: prefer the bracketed numeric tag, then "- NN", then "E NN".
	if m := reEpisodeBracket.FindStringSubmatchIndex(remaining); m != nil {
		p.EpisodeNumber = remaining[m[2]:m[3]]
		p.RawElements = append(p.RawElements, RawElement{"episode_number", p.EpisodeNumber})
		consumedRanges = append(consumedRanges, [2]int{m[0], m[1]})
	} else if m := reEpisodeDash.FindStringSubmatchIndex(remaining); m != nil {
		p.EpisodeNumber = remaining[m[2]:m[3]]
		p.RawElements = append(p.RawElements, RawElement{"episode_number", p.EpisodeNumber})
		consumedRanges = append(consumedRanges, [2]int{m[0], m[1]})
	} else if m := reEpisodeE.FindStringSubmatchIndex(remaining); m != nil {
		p.EpisodeNumber = remaining[m[2]:m[3]]
		p.RawElements = append(p.RawElements, RawElement{"episode_number", p.EpisodeNumber})
		consumedRanges = append(consumedRanges, [2]int{m[0], m[1]})
	} else if m := reEpisodeSpecial.FindStringSubmatchIndex(remaining); m != nil {
		p.EpisodeNumber = strings.ToUpper(remaining[m[2]:m[3]])
		p.RawElements = append(p.RawElements, RawElement{"episode_number", p.EpisodeNumber})
		consumedRanges = append(consumedRanges, [2]int{m[0], m[1]})
	}

	if m := reYear.FindStringSubmatchIndex(remaining); m != nil {
		// Only treat as year if not already consumed inside a tag (avoids
		// double counting e.g. resolution "2160p" matching \d{4}).
		if !withinAny(consumedRanges, m[0]) {
			p.AnimeYear = remaining[m[2]:m[3]]
			p.RawElements = append(p.RawElements, RawElement{"anime_year", p.AnimeYear})
			consumedRanges = append(consumedRanges, [2]int{m[0], m[1]})
		}
	}

	if m := reSeason.FindStringSubmatch(remaining); m != nil {
		p.AnimeSeason = m[1]
		p.RawElements = append(p.RawElements, RawElement{"anime_season", p.AnimeSeason})
	}

	// Whatever title text remains after stripping consumed spans and the
	// leading/trailing tag clutter is the anime title.
	p.AnimeTitle = extractTitle(remaining, consumedRanges)

	if p.AnimeTitle != "" {
		p.RawElements = append([]RawElement{{"anime_title", p.AnimeTitle}}, p.RawElements...)
	}

	if subtitleExts[ext] {
		p.Subtitles = ext
	}

	p.ParseOK = p.AnimeTitle != "" || p.EpisodeNumber != ""
	return p
}

func collectTagSpans(s string) [][2]int {
	var spans [][2]int
	for _, m := range reBracketTag.FindAllStringIndex(s, -1) {
		spans = append(spans, [2]int{m[0], m[1]})
	}
	for _, m := range reParenTag.FindAllStringIndex(s, -1) {
		spans = append(spans, [2]int{m[0], m[1]})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i][0] < spans[j][0] })
	return spans
}

func withinAny(ranges [][2]int, pos int) bool {
	for _, r := range ranges {
		if pos >= r[0] && pos < r[1] {
			return true
		}
	}
	return false
}

// classifyTag inspects one bracket/paren tag's contents and records any
// fields it recognizes; it may contribute multiple comma-separated terms
// (subtitles/language) or several distinct fields (e.g. "AVC-8bit 1080p").
func classifyTag(p *ParsedMedia, tag string) bool {
	matched := false
	if m := reResolution.FindStringSubmatch(tag); m != nil && p.VideoResolution == "" {
		p.VideoResolution = m[1] + "p"
		p.RawElements = append(p.RawElements, RawElement{"video_resolution", p.VideoResolution})
		matched = true
	}
	if m := reSource.FindStringSubmatch(tag); m != nil && p.Source == "" {
		p.Source = m[1]
		p.RawElements = append(p.RawElements, RawElement{"source", p.Source})
		matched = true
	}
	if ms := reVideoTerm.FindAllString(tag, -1); len(ms) > 0 {
		p.VideoTerm = appendUnique(p.VideoTerm, ms...)
		for _, v := range ms {
			p.RawElements = append(p.RawElements, RawElement{"video_term", v})
		}
		matched = true
	}
	if ms := reAudioTerm.FindAllString(tag, -1); len(ms) > 0 {
		p.AudioTerm = appendUnique(p.AudioTerm, ms...)
		for _, v := range ms {
			p.RawElements = append(p.RawElements, RawElement{"audio_term", v})
		}
		matched = true
	}
	if ms := reLanguage.FindAllString(tag, -1); len(ms) > 0 {
		for _, v := range ms {
			up := strings.ToUpper(v)
			if up == "CHT" || up == "CHS" {
				p.Subtitles = appendUnique(p.Subtitles, up)
				p.RawElements = append(p.RawElements, RawElement{"subtitles", up})
			} else {
				p.Language = appendUnique(p.Language, up)
				p.RawElements = append(p.RawElements, RawElement{"language", up})
			}
		}
		matched = true
	}
	return matched
}

func appendUnique(existing string, values...string) string {
	seen := map[string]bool{}
	var parts []string
	if existing != "" {
		for _, v := range strings.Split(existing, ",") {
			seen[v] = true
			parts = append(parts, v)
		}
	}
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, ",")
}

// extractTitle returns the longest contiguous run of non-consumed text,
// trimmed of separator punctuation, as the best-effort title.
func extractTitle(s string, consumed [][2]int) string {
	runes := []rune(s)
	mask := make([]bool, len(runes))
	for _, r := range consumed {
		for i := r[0]; i < r[1] && i < len(mask); i++ {
			mask[i] = true
		}
	}

	var best string
	var cur []rune
	flush := func() {
		t := strings.Trim(string(cur), " -_.[]()")
		if len(t) > len(best) {
			best = t
		}
		cur = cur[:0]
	}
	for i, r := range runes {
		if mask[i] {
			flush()
			continue
		}
		cur = append(cur, r)
	}
	flush()

	return collapseSpaces(best)
}

func collapseSpaces(s string) string {
	fields := strings.Fields(strings.ReplaceAll(s, "_", " "))
	return strings.Join(fields, " ")
}

// IsMediaExtension reports whether ext (without the leading dot,
// case-insensitive) is a recognized media extension for scanning.
func IsMediaExtension(ext string) bool {
	return mediaExts[strings.ToLower(strings.TrimPrefix(ext, "."))]
}

// EpisodeAsFloat parses an episode number string such as "12", "12v2", or
// "SP" into its best numeric interpretation; ok is false for non-numeric
// specials. Exposed for the matcher's episode-resolution step.
func EpisodeAsFloat(episode string) (value float64, ok bool) {
	trimmed := episode
	if idx := strings.IndexByte(strings.ToLower(trimmed), 'v'); idx > 0 {
		trimmed = trimmed[:idx]
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
