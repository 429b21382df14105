package release

import (
	"regexp"
	"strings"
)

// falsePositiveTokens are codec, source, and descriptor tokens that match
// the trailing-group patterns but never name a scene group.
var falsePositiveTokens = map[string]struct{}{
	"X264": {}, "X265": {}, "H264": {}, "H265": {}, "HEVC": {}, "AVC": {},
	"AAC": {}, "AC3": {}, "DTS": {}, "BLURAY": {}, "WEB": {}, "HDTV": {},
	"1080P": {}, "720P": {}, "2160P": {}, "4K": {}, "INTERNAL": {},
	"PROPER": {}, "REPACK": {}, "LIMITED": {}, "EXTENDED": {}, "UNRATED": {},
	"REMUX": {}, "HDR": {}, "ATMOS": {}, "DV": {}, "DOLBY": {}, "VISION": {},
	"UHD": {}, "ENCODE": {}, "MULTI": {}, "DUBBED": {}, "SUBBED": {},
	"WEBDL": {}, "WEBRIP": {}, "DVDRIP": {}, "CAM": {}, "HDCAM": {},
	"TS": {}, "HDTS": {}, "TELESYNC": {}, "SCREENER": {}, "DVDSCR": {},
	"SCR": {}, "XVID": {}, "DIVX": {}, "AV1": {}, "VP9": {}, "MPEG": {}, "MPEG2": {},
	"TRUEHD": {}, "EAC3": {}, "SDR": {}, "HYBRID": {}, "10BIT": {},
}

// groupPatterns match a trailing scene-group tag, tried in order.
var groupPatterns = []*regexp.Regexp{
	regexp.MustCompile(`-([A-Za-z0-9]+)$`),
	regexp.MustCompile(`\.([A-Za-z0-9]+)$`),
	regexp.MustCompile(`\[([A-Za-z0-9]+)\]$`),
	regexp.MustCompile(`\(([A-Za-z0-9]+)\)$`),
	regexp.MustCompile(`_([A-Za-z0-9]+)$`),
	regexp.MustCompile(`\s([A-Za-z0-9]+)$`),
}

var allDigitsRe = regexp.MustCompile(`^[0-9]+$`)

// ParseTitle extracts the quality profile from a raw release title.
func ParseTitle(title string) Quality {
	lower := strings.ToLower(title)
	tokens := tokenize(lower)

	return Quality{
		Resolution: parseResolution(lower),
		Source:     parseSource(lower, tokens),
		Codec:      parseCodec(lower, tokens),
		Group:      parseGroup(title),
	}
}

func tokenize(lower string) map[string]struct{} {
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		switch r {
		case '.', ' ', '-', '_', '[', ']', '(', ')':
			return true
		}
		return false
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func parseResolution(lower string) Resolution {
	switch {
	case strings.Contains(lower, "2160p") || strings.Contains(lower, "4k"):
		return Resolution2160p
	case strings.Contains(lower, "1080p"):
		return Resolution1080p
	case strings.Contains(lower, "720p"):
		return Resolution720p
	default:
		return ResolutionSD
	}
}

func parseSource(lower string, tokens map[string]struct{}) Source {
	has := func(tok string) bool {
		_, ok := tokens[tok]
		return ok
	}

	switch {
	case strings.Contains(lower, "bluray") || strings.Contains(lower, "blu-ray"):
		return SourceBluray
	case strings.Contains(lower, "webrip"):
		return SourceWebRip
	case strings.Contains(lower, "webdl") || strings.Contains(lower, "web-dl") ||
		strings.Contains(lower, "web.dl") || has("web"):
		return SourceWebDL
	case strings.Contains(lower, "hdtv"):
		return SourceHDTV
	case strings.Contains(lower, "dvdrip"):
		return SourceDVDRip
	case strings.Contains(lower, "screener") || strings.Contains(lower, "dvdscr") || has("scr"):
		return SourceScreener
	case has("cam") || has("hdcam"):
		return SourceCAM
	case has("ts") || has("hdts") || strings.Contains(lower, "telesync"):
		return SourceTS
	default:
		return SourceUnknown
	}
}

func parseCodec(lower string, tokens map[string]struct{}) Codec {
	has := func(tok string) bool {
		_, ok := tokens[tok]
		return ok
	}

	switch {
	case strings.Contains(lower, "x265") || strings.Contains(lower, "h265") ||
		strings.Contains(lower, "h.265") || strings.Contains(lower, "hevc"):
		return CodecHEVC
	case strings.Contains(lower, "x264") || strings.Contains(lower, "h264") ||
		strings.Contains(lower, "h.264") || has("avc"):
		return CodecAVC
	case strings.Contains(lower, "mpeg-2") || strings.Contains(lower, "mpeg2"):
		return CodecMPEG2
	case has("vp9"):
		return CodecVP9
	case has("av1"):
		return CodecAV1
	default:
		return CodecUnknown
	}
}

// parseGroup extracts the trailing scene-group tag. False-positive tokens
// (codec, source, and descriptor tags) are stripped and the remainder is
// re-examined, so "Title.1080p.x265-GROUP" and "Title.2160p.x265" both
// resolve correctly.
func parseGroup(title string) string {
	remaining := title
	for range [4]struct{}{} {
		tag, matchStart := matchTrailingTag(remaining)
		if tag == "" {
			return ""
		}
		if !isFalsePositive(tag) {
			return tag
		}
		remaining = strings.TrimRight(remaining[:matchStart], ".-_ ")
	}
	return ""
}

// matchTrailingTag tries each group pattern in order and returns the
// captured tag plus the offset where the match starts.
func matchTrailingTag(title string) (string, int) {
	for _, re := range groupPatterns {
		loc := re.FindStringSubmatchIndex(title)
		if loc == nil {
			continue
		}
		tag := title[loc[2]:loc[3]]
		if allDigitsRe.MatchString(tag) {
			continue
		}
		return tag, loc[0]
	}
	return "", 0
}

func isFalsePositive(tag string) bool {
	_, ok := falsePositiveTokens[strings.ToUpper(tag)]
	return ok
}
