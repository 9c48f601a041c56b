// Package geometry derives physical quantities from drawn polygons and turns
// them into PVWatts capacity requests.
package geometry

import (
	"math"

	"github.com/twpayne/go-geom"

	"github.com/sells-group/solarmap/pkg/pvwatts"
)

const (
	// DefaultModuleEfficiency is the fraction of 1 kW/m2 irradiance a module
	// converts, so capacity in kW is area in m2 times this value.
	DefaultModuleEfficiency = 0.15
	// DefaultMinCapacityKW is the smallest system PVWatts accepts.
	DefaultMinCapacityKW = 0.05
	// DefaultMaxCapacityKW is the largest system PVWatts accepts.
	DefaultMaxCapacityKW = 500000
)

// Reason identifies why a polygon was rejected.
type Reason int

const (
	// ReasonCapacityTooLarge means the derived capacity exceeds the maximum.
	ReasonCapacityTooLarge Reason = iota + 1
	// ReasonCapacityTooSmall means the derived capacity is under the minimum.
	ReasonCapacityTooSmall
	// ReasonNoCentroid means no representative point could be computed.
	ReasonNoCentroid
)

func (r Reason) String() string {
	switch r {
	case ReasonCapacityTooLarge:
		return "capacity_too_large"
	case ReasonCapacityTooSmall:
		return "capacity_too_small"
	case ReasonNoCentroid:
		return "no_centroid"
	default:
		return "unknown"
	}
}

// ValidationError is returned by Validate. Its message is suitable for
// showing to the user as-is.
type ValidationError struct {
	Reason     Reason
	CapacityKW float64
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case ReasonCapacityTooLarge:
		return "System capacity exceeds the maximum, please reduce the area or decrease module efficiency."
	case ReasonCapacityTooSmall:
		return "System capacity does not meet the minimum, please increase the area or module efficiency."
	case ReasonNoCentroid:
		return "Could not calculate the centroid of the polygon."
	default:
		return "Polygon could not be validated."
	}
}

// Is matches any *ValidationError with the same Reason, so the sentinels
// below work with errors.Is regardless of CapacityKW.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Reason == e.Reason
}

// Sentinel validation errors for errors.Is.
var (
	ErrCapacityTooLarge = &ValidationError{Reason: ReasonCapacityTooLarge}
	ErrCapacityTooSmall = &ValidationError{Reason: ReasonCapacityTooSmall}
	ErrNoCentroid       = &ValidationError{Reason: ReasonNoCentroid}
)

// Bounds is the inclusive capacity range accepted by the estimate service.
type Bounds struct {
	MinKW float64
	MaxKW float64
}

// DefaultBounds returns the PVWatts system_capacity range.
func DefaultBounds() Bounds {
	return Bounds{MinKW: DefaultMinCapacityKW, MaxKW: DefaultMaxCapacityKW}
}

// Derived holds the quantities computed from one polygon.
type Derived struct {
	AreaSquareMeters float64 `json:"area_m2" yaml:"area_m2"`
	CentroidLon      float64 `json:"centroid_lon" yaml:"centroid_lon"`
	CentroidLat      float64 `json:"centroid_lat" yaml:"centroid_lat"`
}

// Validator converts polygons into capacity requests. It holds no state
// beyond its configuration and is safe for concurrent use.
type Validator struct {
	efficiency float64
	bounds     Bounds
}

// NewValidator creates a validator. Zero values fall back to the defaults.
func NewValidator(efficiency float64, bounds Bounds) *Validator {
	if efficiency <= 0 {
		efficiency = DefaultModuleEfficiency
	}
	if bounds.MinKW <= 0 {
		bounds.MinKW = DefaultMinCapacityKW
	}
	if bounds.MaxKW <= 0 {
		bounds.MaxKW = DefaultMaxCapacityKW
	}
	return &Validator{efficiency: efficiency, bounds: bounds}
}

// Efficiency returns the module efficiency in use.
func (v *Validator) Efficiency() float64 { return v.efficiency }

// Bounds returns the capacity bounds in use.
func (v *Validator) Bounds() Bounds { return v.bounds }

// Capacity converts an area in square meters to system capacity in kW.
func (v *Validator) Capacity(areaM2 float64) float64 {
	return areaM2 * v.efficiency
}

// CheckCapacity enforces the inclusive bounds. NaN is rejected as too small.
func (v *Validator) CheckCapacity(kw float64) error {
	switch {
	case math.IsNaN(kw) || kw < v.bounds.MinKW:
		return &ValidationError{Reason: ReasonCapacityTooSmall, CapacityKW: kw}
	case kw > v.bounds.MaxKW:
		return &ValidationError{Reason: ReasonCapacityTooLarge, CapacityKW: kw}
	}
	return nil
}

// Validate derives the capacity request for a polygon. Capacity bounds are
// checked before the centroid, so degenerate polygons fail as too small
// without reaching the centroid computation.
func (v *Validator) Validate(poly *geom.Polygon) (pvwatts.Request, error) {
	kw := v.Capacity(Area(poly))
	if err := v.CheckCapacity(kw); err != nil {
		return pvwatts.Request{}, err
	}

	lon, lat, err := Centroid(poly)
	if err != nil {
		return pvwatts.Request{}, &ValidationError{Reason: ReasonNoCentroid, CapacityKW: kw}
	}

	return pvwatts.Request{SystemCapacityKW: kw, Lat: lat, Lon: lon}, nil
}

// Derive computes the area and centroid of a polygon without applying any
// capacity policy.
func Derive(poly *geom.Polygon) (Derived, error) {
	d := Derived{AreaSquareMeters: Area(poly)}
	lon, lat, err := Centroid(poly)
	if err != nil {
		return d, err
	}
	d.CentroidLon, d.CentroidLat = lon, lat
	return d, nil
}
