package servo

import (
	"fmt"
	"math"

	deverrors "github.com/CodedInternet/linearservo/onboard/errors"
	"github.com/spf13/cast"
)

// Attribute keys accepted in a servo's attribute map.
const (
	AttrMotor         = "motor"
	AttrLength        = "length_inches"
	AttrSpeed         = "mm_per_second"
	AttrMaxPosition   = "max_position_degrees"
	AttrMinPosition   = "min_position_degrees"
	AttrTotalDegrees  = "total_degrees"
	AttrStartPosition = "start_position"
	AttrUnits         = "units_per_length"
)

const (
	DefaultMaxPosition   = 180
	DefaultMinPosition   = 0
	DefaultTotalDegrees  = 180
	DefaultStartPosition = 90

	// MillimetresPerInch converts length_inches into the unit of mm_per_second.
	MillimetresPerInch = 25.4
)

// Attributes is the flat key/value bag a servo is configured from.
type Attributes map[string]interface{}

// Config is the typed form of Attributes. It is never modified after NewConfig returns it.
type Config struct {
	Motor string

	LengthTravel   float64 // actuator travel across TotalDegrees, in length units
	LinearSpeed    float64 // travel speed at full power, in speed units per second
	UnitConversion float64 // length units -> speed units

	MinDegrees    int
	MaxDegrees    int
	TotalDegrees  int
	StartPosition int
}

// Validate checks the attributes that must be present and returns the names of the
// required and optional dependencies.
func Validate(attrs Attributes) (required, optional []string, err error) {
	raw, ok := attrs[AttrMotor]
	if !ok || raw == nil {
		return nil, nil, deverrors.ConfigError{Attribute: AttrMotor, Reason: "is required"}
	}
	motor, err := cast.ToStringE(raw)
	if err != nil || motor == "" {
		return nil, nil, deverrors.ConfigError{Attribute: AttrMotor, Reason: "must name a motor"}
	}
	required = append(required, motor)

	for _, key := range []string{AttrLength, AttrSpeed} {
		if v, ok := attrs[key]; !ok || v == nil {
			return nil, nil, deverrors.ConfigError{Attribute: key, Reason: "is required"}
		}
	}

	return required, []string{}, nil
}

// NewConfig parses attrs, filling in defaults for every optional key.
func NewConfig(attrs Attributes) (cfg Config, err error) {
	deps, _, err := Validate(attrs)
	if err != nil {
		return
	}
	cfg.Motor = deps[0]

	if cfg.LengthTravel, err = positiveFloat(attrs, AttrLength, 0); err != nil {
		return
	}
	if cfg.LinearSpeed, err = positiveFloat(attrs, AttrSpeed, 0); err != nil {
		return
	}
	if cfg.UnitConversion, err = positiveFloat(attrs, AttrUnits, MillimetresPerInch); err != nil {
		return
	}
	if cfg.MaxDegrees, err = intAttr(attrs, AttrMaxPosition, DefaultMaxPosition); err != nil {
		return
	}
	if cfg.MinDegrees, err = intAttr(attrs, AttrMinPosition, DefaultMinPosition); err != nil {
		return
	}
	if cfg.TotalDegrees, err = intAttr(attrs, AttrTotalDegrees, DefaultTotalDegrees); err != nil {
		return
	}
	if cfg.StartPosition, err = intAttr(attrs, AttrStartPosition, DefaultStartPosition); err != nil {
		return
	}

	if cfg.TotalDegrees <= 0 {
		return cfg, deverrors.ConfigError{Attribute: AttrTotalDegrees, Reason: "must be greater than zero"}
	}
	if cfg.MinDegrees >= cfg.MaxDegrees {
		return cfg, deverrors.ConfigError{
			Attribute: AttrMinPosition,
			Reason:    fmt.Sprintf("(%d) must be less than %s (%d)", cfg.MinDegrees, AttrMaxPosition, cfg.MaxDegrees),
		}
	}

	return cfg, nil
}

// Clamp bounds angle to [MinDegrees, MaxDegrees].
func (c Config) Clamp(angle int) int {
	if angle < c.MinDegrees {
		return c.MinDegrees
	}
	if angle > c.MaxDegrees {
		return c.MaxDegrees
	}
	return angle
}

func positiveFloat(attrs Attributes, key string, def float64) (float64, error) {
	raw, ok := attrs[key]
	if !ok || raw == nil {
		return def, nil
	}

	v, err := cast.ToFloat64E(raw)
	if err != nil {
		return 0, deverrors.ConfigError{Attribute: key, Reason: fmt.Sprintf("must be a number, got %v", raw)}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, deverrors.ConfigError{Attribute: key, Reason: "must be greater than zero"}
	}
	return v, nil
}

func intAttr(attrs Attributes, key string, def int) (int, error) {
	raw, ok := attrs[key]
	if !ok || raw == nil {
		return def, nil
	}

	switch f := raw.(type) {
	case float64:
		if f != math.Trunc(f) {
			return 0, deverrors.ConfigError{Attribute: key, Reason: fmt.Sprintf("must be a whole number, got %v", raw)}
		}
	case float32:
		if float64(f) != math.Trunc(float64(f)) {
			return 0, deverrors.ConfigError{Attribute: key, Reason: fmt.Sprintf("must be a whole number, got %v", raw)}
		}
	}

	v, err := cast.ToIntE(raw)
	if err != nil {
		return 0, deverrors.ConfigError{Attribute: key, Reason: fmt.Sprintf("must be an integer, got %v", raw)}
	}
	return v, nil
}
