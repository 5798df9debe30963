// Copyright 2020 The OPA Authors.  All rights reserved.
// Use of this source code is governed by an Apache2
// license that can be found in the LICENSE file.

// Package pressure is a standalone advisor that classifies memory usage
// against a configured limit into one of five severity levels. It holds
// no state of its own and is not part of the sandbox core: callers pass
// in whatever (used, limit) pair they already have — typically a
// ResourceMetrics snapshot — and get back a Level to act on (log,
// alert, shed load), independent of any sandbox instance's lifecycle.
package pressure

import "fmt"

// Level is a memory-pressure severity classification.
type Level string

const (
	Normal   Level = "NORMAL"
	Warning  Level = "WARNING"
	Pressure Level = "PRESSURE"
	Critical Level = "CRITICAL"
	OOM      Level = "OOM"
)

// Thresholds, as a fraction of limit: below Warning is Normal, below
// Pressure is Warning, below Critical is Pressure, below 1.0 is
// Critical, and at or above 1.0 is OOM.
const (
	warningThreshold  = 0.70
	pressureThreshold = 0.85
	criticalThreshold = 0.95
)

// Classify returns the Level for used bytes against limit bytes. A
// limit of 0 is treated as already at capacity: any positive usage is
// OOM, and zero usage is Normal.
func Classify(used, limit uint32) Level {
	if limit == 0 {
		if used == 0 {
			return Normal
		}
		return OOM
	}

	ratio := float64(used) / float64(limit)
	switch {
	case ratio >= 1.0:
		return OOM
	case ratio >= criticalThreshold:
		return Critical
	case ratio >= pressureThreshold:
		return Pressure
	case ratio >= warningThreshold:
		return Warning
	default:
		return Normal
	}
}

// Report pairs a Level with the usage it was computed from, for
// callers that want to log or export the ratio alongside the verdict.
type Report struct {
	Level Level
	Used  uint32
	Limit uint32
	Ratio float64
}

// String renders a Report as "LEVEL (used/limit, N.N%)".
func (r Report) String() string {
	return fmt.Sprintf("%s (%d/%d, %.1f%%)", r.Level, r.Used, r.Limit, r.Ratio*100)
}

// Assess is Classify plus the ratio it was computed from, bundled for
// callers that want both without recomputing the division themselves.
func Assess(used, limit uint32) Report {
	var ratio float64
	if limit != 0 {
		ratio = float64(used) / float64(limit)
	} else if used != 0 {
		ratio = 1
	}
	return Report{Level: Classify(used, limit), Used: used, Limit: limit, Ratio: ratio}
}
