// Package quality selects the media variant to fetch for one item from
// network and device signals. Pure, no I/O.
package quality

import (
	"strings"

	"github.com/tidegrove/galleria/internal/domain"
)

// Preset is a named rung on the quality ladder.
type Preset int

const (
	PresetLow Preset = iota
	PresetMedium
	PresetHigh
	PresetUltra
)

func (p Preset) String() string {
	switch p {
	case PresetLow:
		return "low"
	case PresetMedium:
		return "medium"
	case PresetHigh:
		return "high"
	case PresetUltra:
		return "ultra"
	default:
		return "unknown"
	}
}

var presets = map[Preset]domain.QualitySpec{
	PresetLow:    {MaxWidth: 400, Quality: 60, Format: "webp"},
	PresetMedium: {MaxWidth: 800, Quality: 75, Format: "webp"},
	PresetHigh:   {MaxWidth: 1200, Quality: 85, Format: "webp"},
	PresetUltra:  {MaxWidth: 1600, Quality: 90, Format: "webp"},
}

// Spec returns the tuple for a preset.
func Spec(p Preset) domain.QualitySpec { return presets[p] }

// Decide picks the variant for one item. Data saver forces the low preset
// regardless of other signals; missing signals fall back to medium.
func Decide(item domain.MediaItem, vp domain.ViewportSnapshot, signal domain.NetworkSignal, device domain.DeviceHint) domain.QualitySpec {
	preset := basePreset(signal)

	if signal.DataSaver {
		preset = PresetLow
	} else {
		if device.Constrained() && preset > PresetLow {
			preset--
		}
		if signal.Speed == domain.SpeedFast && vp.PixelDensity > 2 {
			preset = PresetUltra
		}
	}

	spec := presets[preset]

	// Never request wider than the native asset.
	if item.Width > 0 && item.Width < spec.MaxWidth {
		spec.MaxWidth = item.Width
	}

	// Items the site already serves as JPEG stay JPEG.
	if wantsJPEG(item.PrimaryURL) {
		spec.Format = "jpeg"
	}
	return spec
}

func basePreset(signal domain.NetworkSignal) Preset {
	switch signal.Speed {
	case domain.SpeedSlow:
		return PresetLow
	case domain.SpeedMedium:
		return PresetMedium
	case domain.SpeedFast:
		return PresetHigh
	default:
		return PresetMedium
	}
}

func wantsJPEG(url string) bool {
	u := strings.ToLower(url)
	if i := strings.IndexByte(u, '?'); i >= 0 {
		u = u[:i]
	}
	return strings.HasSuffix(u, ".jpg") || strings.HasSuffix(u, ".jpeg")
}
