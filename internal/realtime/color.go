package realtime

import (
	"strconv"
	"strings"

	"overlay.onebusaway.org/internal/models"
)

const (
	blackText = "000000"
	whiteText = "FFFFFF"
)

// ContrastColor picks black or white text for a hex background color using
// perceived luminance (0.299 R + 0.587 G + 0.114 B). Luminance above 128 gets
// black text. Empty or malformed input yields black. A leading "#" on the
// input is preserved on the output.
func ContrastColor(background string) string {
	hex := strings.TrimSpace(background)
	prefix := ""
	if strings.HasPrefix(hex, "#") {
		prefix = "#"
		hex = hex[1:]
	}

	if len(hex) != 6 {
		return prefix + blackText
	}
	rgb, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return prefix + blackText
	}

	r := float64((rgb >> 16) & 0xFF)
	g := float64((rgb >> 8) & 0xFF)
	b := float64(rgb & 0xFF)
	if 0.299*r+0.587*g+0.114*b > 128 {
		return prefix + blackText
	}
	return prefix + whiteText
}

// RouteTextColor returns the route's declared text color, or a computed
// contrast color when the feed left it out.
func RouteTextColor(r models.Route) string {
	if r.TextColor != "" {
		return r.TextColor
	}
	if r.Color == "" {
		return ""
	}
	return ContrastColor(r.Color)
}
