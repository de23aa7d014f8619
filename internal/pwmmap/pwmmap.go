// Package pwmmap implements the piecewise-linear maps shared by fan PWM
// maps, mainboard tachometer RPM maps, and sensor temperature maps.
package pwmmap

import "fmt"

// MaxPoints is the largest number of points a Map may hold (§3).
const MaxPoints = 32

// MinPoints is the smallest number of points a valid Map must hold (§4.1).
const MinPoints = 2

// Point is one (x, y) pair of a piecewise-linear map.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Map is a strictly monotonic (in X) sequence of points.
type Map []Point

// Validate checks the point-count and monotonicity invariants required
// before a Map can be accepted into a configuration (§4.1, §8).
func (m Map) Validate() error {
	if len(m) < MinPoints {
		return fmt.Errorf("map requires at least %d points, got %d", MinPoints, len(m))
	}
	if len(m) > MaxPoints {
		return fmt.Errorf("map allows at most %d points, got %d", MaxPoints, len(m))
	}
	for i := 1; i < len(m); i++ {
		if m[i].X <= m[i-1].X {
			return fmt.Errorf("map points must be strictly increasing in x: point %d (%v) <= point %d (%v)",
				i, m[i].X, i-1, m[i-1].X)
		}
	}
	return nil
}

// Eval interpolates val against the map following §4.1's rule: clamp
// below the first point and above the last, linearly interpolate between
// the enclosing segment otherwise.
func (m Map) Eval(val float64) float64 {
	if len(m) == 0 {
		return 0
	}
	if val <= m[0].X {
		return m[0].Y
	}

	i := 1
	for i < len(m)-1 && m[i].X < val {
		i++
	}
	if val >= m[i].X {
		return m[i].Y
	}

	a := (m[i].Y - m[i-1].Y) / (m[i].X - m[i-1].X)
	return m[i-1].Y + a*(val-m[i-1].X)
}
