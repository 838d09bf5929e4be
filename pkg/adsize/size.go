// Package adsize matches requested ad slot sizes against the fixed sizes an ad network serves
package adsize

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Sentinel dimensions a host may send instead of a concrete value.
// They must be resolved with Resolve before matching.
const (
	// WidthFullScreen asks for the full screen width
	WidthFullScreen = -1
	// HeightAuto asks for a smart banner height derived from the screen height
	HeightAuto = -2
	// HeightAdaptive asks for an anchored adaptive height derived from the width
	HeightAdaptive = -3
)

// Matching ratios: a candidate may be at most this much smaller than the request
const (
	MinWidthRatio  = 0.5
	MinHeightRatio = 0.7
)

// Size is a width/height pair in density-independent pixels
type Size struct {
	Width  int `json:"w"`
	Height int `json:"h"`
}

// Common IAB sizes used by the network candidate lists
var (
	Banner      = Size{Width: 320, Height: 50}
	LargeBanner = Size{Width: 320, Height: 100}
	ShortBanner = Size{Width: 300, Height: 50}
	Leaderboard = Size{Width: 728, Height: 90}
	MRec        = Size{Width: 300, Height: 250}
)

// Area returns width times height
func (s Size) Area() int {
	return s.Width * s.Height
}

// IsSentinel reports whether either dimension still holds a platform sentinel
func (s Size) IsSentinel() bool {
	return s.Width < 0 || s.Height < 0
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// ParseSize parses a "WxH" string such as "320x50"
func ParseSize(v string) (Size, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(v)), "x")
	if len(parts) != 2 {
		return Size{}, fmt.Errorf("invalid size %q: expected WxH", v)
	}
	w, err := strconv.Atoi(parts[0])
	if err != nil {
		return Size{}, fmt.Errorf("invalid size width %q: %w", parts[0], err)
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil {
		return Size{}, fmt.Errorf("invalid size height %q: %w", parts[1], err)
	}
	return Size{Width: w, Height: h}, nil
}

// Screen describes the display the ad is rendered on
type Screen struct {
	WidthDP  int     `json:"w"`
	HeightDP int     `json:"h"`
	Density  float64 `json:"density"`
}

// ToDP converts a raw pixel length to dp, rounding half up
func ToDP(px int, density float64) int {
	if density <= 0 {
		return px
	}
	return int(math.Floor(float64(px)/density + 0.5))
}

// FromPixels converts a raw pixel size to dp. Sentinel values pass through unchanged.
func FromPixels(widthPx, heightPx int, density float64) Size {
	s := Size{Width: widthPx, Height: heightPx}
	if widthPx > 0 {
		s.Width = ToDP(widthPx, density)
	}
	if heightPx > 0 {
		s.Height = ToDP(heightPx, density)
	}
	return s
}

// Resolve replaces sentinel dimensions with concrete dp values for the given screen
func Resolve(requested Size, screen Screen) (Size, error) {
	resolved := requested
	if resolved.Width == WidthFullScreen {
		resolved.Width = screen.WidthDP
	}
	if resolved.Width <= 0 {
		return Size{}, fmt.Errorf("invalid requested width %d", requested.Width)
	}

	switch resolved.Height {
	case HeightAuto:
		resolved.Height = smartBannerHeight(screen.HeightDP)
	case HeightAdaptive:
		resolved.Height = adaptiveBannerHeight(resolved.Width, screen.HeightDP)
	}
	if resolved.Height <= 0 {
		return Size{}, fmt.Errorf("invalid requested height %d", requested.Height)
	}
	return resolved, nil
}

// smartBannerHeight follows the classic smart banner buckets
func smartBannerHeight(screenHeight int) int {
	switch {
	case screenHeight <= 400:
		return 32
	case screenHeight <= 720:
		return 50
	default:
		return 90
	}
}

// adaptiveBannerHeight is 15% of the width, clamped to [50, 90] and to 15% of the screen height
func adaptiveBannerHeight(width, screenHeight int) int {
	h := int(math.Floor(float64(width)*0.15 + 0.5))
	if h < 50 {
		h = 50
	}
	if h > 90 {
		h = 90
	}
	if screenHeight > 0 {
		if maxH := int(float64(screenHeight) * 0.15); maxH >= 50 && h > maxH {
			h = maxH
		}
	}
	return h
}

// InRange reports whether candidate fits inside requested without shrinking past the ratios
func InRange(requested, candidate Size) bool {
	if candidate.Width > requested.Width || candidate.Height > requested.Height {
		return false
	}
	return float64(candidate.Width) >= float64(requested.Width)*MinWidthRatio &&
		float64(candidate.Height) >= float64(requested.Height)*MinHeightRatio
}

// FindClosestSize returns the in-range candidate with the greatest area.
// Equal areas keep the first candidate. ok is false when nothing is in range.
func FindClosestSize(requested Size, candidates []Size) (best Size, ok bool) {
	for _, c := range candidates {
		if !InRange(requested, c) {
			continue
		}
		if !ok || c.Area() > best.Area() {
			best, ok = c, true
		}
	}
	return best, ok
}

// Contains reports whether size is one of candidates
func Contains(candidates []Size, size Size) bool {
	for _, c := range candidates {
		if c == size {
			return true
		}
	}
	return false
}
