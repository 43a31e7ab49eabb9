// Package plan computes the ordered, non-overlapping clip ranges for a
// carousel. Planning is pure: the same duration and spec always yield
// byte-for-byte identical boundaries, which is what makes downstream
// naming and ordering deterministic.
package plan

import (
	"fmt"
	"sort"
)

// Policy selects how clip start times are placed.
type Policy string

const (
	// PolicyEven centers one clip in each of count equal segments.
	PolicyEven Policy = "even"
	// PolicyOffsets uses caller-supplied explicit start offsets.
	PolicyOffsets Policy = "offsets"
)

// Reason classifies planning failures.
type Reason string

const (
	ReasonDurationTooShort Reason = "duration_too_short"
	ReasonInvalidOffsets   Reason = "invalid_offsets"
	ReasonInvalidSpec      Reason = "invalid_spec"
)

// PlanError is the terminal error of the planning stage.
type PlanError struct {
	Reason Reason
	Detail string
}

func (e *PlanError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("plan: %s: %s", e.Reason, e.Detail)
	}
	return fmt.Sprintf("plan: %s", e.Reason)
}

// ClipSpec describes the desired carousel shape. Immutable.
type ClipSpec struct {
	Count        int       `json:"count"`
	ClipDuration float64   `json:"clip_duration"` // seconds
	Policy       Policy    `json:"policy"`
	Offsets      []float64 `json:"offsets,omitempty"` // PolicyOffsets only
}

// ClipRange is one planned (start, end) interval in seconds.
// Invariant: 0 <= Start < End <= source duration.
type ClipRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

func (r ClipRange) Duration() float64 {
	return r.End - r.Start
}

// Plan computes the ordered clip ranges for a source of the given
// duration. Output is always sorted by ascending start time regardless
// of how offsets were supplied.
func Plan(duration float64, spec ClipSpec) ([]ClipRange, error) {
	if spec.ClipDuration <= 0 {
		return nil, &PlanError{Reason: ReasonInvalidSpec, Detail: "clip duration must be positive"}
	}

	switch spec.Policy {
	case PolicyOffsets:
		return planOffsets(duration, spec)
	case PolicyEven, "":
		return planEven(duration, spec)
	default:
		return nil, &PlanError{Reason: ReasonInvalidSpec, Detail: fmt.Sprintf("unknown policy %q", spec.Policy)}
	}
}

// planEven divides [0, duration] into count equal segments and centers
// one clip of ClipDuration on each segment midpoint, clamped in bounds.
func planEven(duration float64, spec ClipSpec) ([]ClipRange, error) {
	if spec.Count <= 0 {
		return nil, &PlanError{Reason: ReasonInvalidSpec, Detail: "clip count must be positive"}
	}
	if duration < float64(spec.Count)*spec.ClipDuration {
		return nil, &PlanError{
			Reason: ReasonDurationTooShort,
			Detail: fmt.Sprintf("%.1fs source cannot hold %d clips of %.1fs", duration, spec.Count, spec.ClipDuration),
		}
	}

	segment := duration / float64(spec.Count)
	ranges := make([]ClipRange, 0, spec.Count)
	for i := 0; i < spec.Count; i++ {
		mid := segment*float64(i) + segment/2
		start := mid - spec.ClipDuration/2
		if start < 0 {
			start = 0
		}
		end := start + spec.ClipDuration
		if end > duration {
			end = duration
			start = end - spec.ClipDuration
		}
		ranges = append(ranges, ClipRange{Start: start, End: end})
	}
	return ranges, nil
}

// planOffsets validates caller-supplied start offsets, then emits the
// ranges sorted ascending.
func planOffsets(duration float64, spec ClipSpec) ([]ClipRange, error) {
	if len(spec.Offsets) == 0 {
		return nil, &PlanError{Reason: ReasonInvalidOffsets, Detail: "no offsets supplied"}
	}
	if spec.Count > 0 && spec.Count != len(spec.Offsets) {
		return nil, &PlanError{
			Reason: ReasonInvalidOffsets,
			Detail: fmt.Sprintf("count %d does not match %d offsets", spec.Count, len(spec.Offsets)),
		}
	}
	if duration < float64(len(spec.Offsets))*spec.ClipDuration {
		return nil, &PlanError{
			Reason: ReasonDurationTooShort,
			Detail: fmt.Sprintf("%.1fs source cannot hold %d clips of %.1fs", duration, len(spec.Offsets), spec.ClipDuration),
		}
	}

	offsets := append([]float64(nil), spec.Offsets...)
	sort.Float64s(offsets)

	ranges := make([]ClipRange, 0, len(offsets))
	for _, off := range offsets {
		if off < 0 || off+spec.ClipDuration > duration {
			return nil, &PlanError{
				Reason: ReasonInvalidOffsets,
				Detail: fmt.Sprintf("offset %.1fs out of bounds for %.1fs source", off, duration),
			}
		}
		if n := len(ranges); n > 0 && off < ranges[n-1].End {
			return nil, &PlanError{
				Reason: ReasonInvalidOffsets,
				Detail: fmt.Sprintf("offset %.1fs overlaps previous clip ending at %.1fs", off, ranges[n-1].End),
			}
		}
		ranges = append(ranges, ClipRange{Start: off, End: off + spec.ClipDuration})
	}
	return ranges, nil
}
