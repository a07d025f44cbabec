package servo

import (
	"math"
	"time"
)

// Motion is how long the motor has to run, and in which direction, to cover an angle delta.
type Motion struct {
	Distance  float64 // in length units
	Duration  time.Duration
	Direction float64 // +1 or -1, used directly as the motor power
}

// Estimate converts degreesToMove into a run time at full power. It has no side effects.
// Zero denominators are rejected by NewConfig, so cfg must come from there.
func Estimate(cfg Config, degreesToMove int) Motion {
	perDegree := cfg.LengthTravel / float64(cfg.TotalDegrees)
	distance := math.Abs(float64(degreesToMove)) * perDegree
	seconds := distance * cfg.UnitConversion / cfg.LinearSpeed

	direction := -1.0
	if degreesToMove > 0 {
		direction = 1.0
	}

	return Motion{
		Distance:  distance,
		Duration:  time.Duration(math.Round(seconds * float64(time.Second))),
		Direction: direction,
	}
}
