package activitylog

import (
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultColor is used for actors without a name or with an unparsable colour.
const DefaultColor = "#1890ff"

var avatarPalette = []string{
	"#f56a00", "#7265e6", "#ffbf00", "#00a2ae",
	"#1890ff", "#52c41a", "#eb2f96", "#faad14",
	"#722ed1", "#13c2c2", "#fa8c16", "#a0d911",
}

// ColorFromName picks a stable palette colour for a user name.
func ColorFromName(name string) string {
	if name == "" {
		return DefaultColor
	}
	var hash int64
	for _, unit := range utf16.Encode([]rune(name)) {
		shifted := int64(int32(uint32(int32(hash)) << 5))
		hash = int64(unit) + (shifted - hash)
	}
	if hash < 0 {
		hash = -hash
	}
	return avatarPalette[hash%int64(len(avatarPalette))]
}

// RGB is an 8-bit colour triple.
type RGB struct {
	R, G, B uint8
}

// HexToRGB parses #rrggbb, falling back to DefaultColor.
func HexToRGB(hex string) RGB {
	if rgb, ok := parseHex(hex); ok {
		return rgb
	}
	rgb, _ := parseHex(DefaultColor)
	return rgb
}

func parseHex(hex string) (RGB, bool) {
	hex = strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(hex) != 6 {
		return RGB{}, false
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return RGB{}, false
	}
	return RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, true
}

// AvatarColor returns the actor colour or the default.
func (a Actor) AvatarColor() string {
	if _, ok := parseHex(a.ColorCode); ok {
		return a.ColorCode
	}
	return DefaultColor
}

// DisplayName returns the actor name or "Unknown".
func (a Actor) DisplayName() string {
	if name := strings.TrimSpace(a.Name); name != "" {
		return name
	}
	return "Unknown"
}

// Initial returns the upper-cased first letter of the display name.
func (a Actor) Initial() string {
	name := a.DisplayName()
	r, _ := utf8.DecodeRuneInString(name)
	return cases.Upper(language.Und).String(string(r))
}
