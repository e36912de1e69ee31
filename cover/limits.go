package cover

import "math"

// Range is an inclusive bound. The zero value accepts everything.
type Range struct {
	Min uint64 `yaml:"min"`
	Max uint64 `yaml:"max"` // 0 means unbounded
}

func (r Range) contains(v uint64) bool {
	if v < r.Min {
		return false
	}
	return r.Max == 0 || v <= r.Max
}

func (r Range) upper() uint64 {
	if r.Max == 0 {
		return math.MaxUint64
	}
	return r.Max
}

// Limits are deployment-specific checks applied after the core validation.
type Limits struct {
	Location  Range `yaml:"location"`
	Threshold Range `yaml:"threshold"`
	Duration  Range `yaml:"duration"`
}

func (l Limits) check(req IssueRequest) error {
	fields := []struct {
		name  string
		value uint64
		r     Range
	}{
		{"location_id", req.LocationID, l.Location},
		{"threshold_value", req.ThresholdValue, l.Threshold},
		{"duration", req.Duration, l.Duration},
	}
	for _, f := range fields {
		if !f.r.contains(f.value) {
			return &RangeError{Field: f.name, Value: f.value, Min: f.r.Min, Max: f.r.upper()}
		}
	}
	return nil
}
