package domain

// SpeedClass buckets the measured connection speed.
type SpeedClass int

const (
	SpeedUnknown SpeedClass = iota
	SpeedSlow
	SpeedMedium
	SpeedFast
)

func (s SpeedClass) String() string {
	switch s {
	case SpeedSlow:
		return "slow"
	case SpeedMedium:
		return "medium"
	case SpeedFast:
		return "fast"
	default:
		return "unknown"
	}
}

// NetworkSignal is sampled at startup and on every change notification.
// Read only by the quality adapter.
type NetworkSignal struct {
	Speed        SpeedClass
	RTTMs        int
	DownlinkMbps float64
	DataSaver    bool
}

// DeviceHint carries the device-side signals the quality adapter consumes.
type DeviceHint struct {
	MemoryGB     float64 // 0 = unknown
	PixelDensity float64 // device pixel ratio, 0 = unknown
}

// Constrained reports whether the device looks memory-constrained
// (under the 4GB-equivalent line).
func (d DeviceHint) Constrained() bool {
	return d.MemoryGB > 0 && d.MemoryGB < 4
}

// QualitySpec is the variant the loader should request for one item.
type QualitySpec struct {
	MaxWidth int
	Quality  int // percent
	Format   string
}
