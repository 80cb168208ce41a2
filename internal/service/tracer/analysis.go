package tracer

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/strellerminds/pulse/internal/model"
)

// analyze seals a trace into a TraceAnalysis. Pure: operates on a snapshot
// of the span tree and touches no shared state.
func analyze(tr *model.Trace, status model.TraceStatus, bottleneckShare float64, completedAt time.Time) *model.TraceAnalysis {
	out := &model.TraceAnalysis{
		TraceID:     tr.TraceID,
		Subject:     tr.Subject,
		Status:      status,
		SpanCount:   len(tr.Spans),
		CompletedAt: completedAt,
	}
	if len(tr.Spans) == 0 {
		return out
	}

	out.TotalDuration = wallClockSpan(tr.Spans)
	for _, s := range tr.Spans {
		if s.Failed {
			out.ErrorCount++
		}
	}

	children := make(map[uuid.UUID][]*model.TraceSpan)
	var roots []*model.TraceSpan
	for i := range tr.Spans {
		s := &tr.Spans[i]
		if s.ParentSpanID == nil {
			roots = append(roots, s)
			continue
		}
		children[*s.ParentSpanID] = append(children[*s.ParentSpanID], s)
	}

	out.CriticalPath, out.CriticalPathDuration = criticalPath(roots, children)
	out.Bottlenecks = bottlenecks(tr.Spans, children, out.TotalDuration, bottleneckShare)
	return out
}

// wallClockSpan is the elapsed time from the earliest span start to the
// latest span end. Concurrent siblings overlap, so this is not the sum of
// durations.
func wallClockSpan(spans []model.TraceSpan) time.Duration {
	earliest := spans[0].StartTime
	latest := spans[0].StartTime.Add(spans[0].Duration)
	for _, s := range spans[1:] {
		if s.StartTime.Before(earliest) {
			earliest = s.StartTime
		}
		if end := s.StartTime.Add(s.Duration); end.After(latest) {
			latest = end
		}
	}
	return latest.Sub(earliest)
}

// criticalPath returns the root-to-leaf chain with the largest cumulative
// duration. Ties resolve to the earlier-starting span at each branch, so the
// result is deterministic for identical trees.
func criticalPath(roots []*model.TraceSpan, children map[uuid.UUID][]*model.TraceSpan) ([]uuid.UUID, time.Duration) {
	var bestPath []uuid.UUID
	var bestDur time.Duration
	var bestStart time.Time

	for _, root := range roots {
		path, dur := descend(root, children)
		if len(bestPath) == 0 || dur > bestDur || (dur == bestDur && root.StartTime.Before(bestStart)) {
			bestPath, bestDur, bestStart = path, dur, root.StartTime
		}
	}
	return bestPath, bestDur
}

func descend(span *model.TraceSpan, children map[uuid.UUID][]*model.TraceSpan) ([]uuid.UUID, time.Duration) {
	var bestTail []uuid.UUID
	var bestDur time.Duration
	var bestStart time.Time
	for _, child := range children[span.SpanID] {
		tail, dur := descend(child, children)
		if bestTail == nil || dur > bestDur || (dur == bestDur && child.StartTime.Before(bestStart)) {
			bestTail, bestDur, bestStart = tail, dur, child.StartTime
		}
	}
	return append([]uuid.UUID{span.SpanID}, bestTail...), span.Duration + bestDur
}

// bottlenecks returns the spans whose self time consumed at least the given
// share of the whole trace, worst first.
func bottlenecks(spans []model.TraceSpan, children map[uuid.UUID][]*model.TraceSpan, total time.Duration, share float64) []model.Bottleneck {
	if total <= 0 {
		return nil
	}

	var found []model.Bottleneck
	for _, s := range spans {
		self := s.Duration
		for _, child := range children[s.SpanID] {
			self -= child.Duration
		}
		if self < 0 {
			// Children overlap each other or overrun the parent; the parent
			// itself holds no time of its own.
			self = 0
		}
		frac := float64(self) / float64(total)
		if frac < share {
			continue
		}
		found = append(found, model.Bottleneck{
			SpanID:       s.SpanID,
			Operation:    s.Operation,
			SelfTime:     self,
			ShareOfTotal: frac,
			Severity:     bottleneckSeverity(frac),
		})
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].SelfTime > found[j].SelfTime })
	return found
}

func bottleneckSeverity(share float64) model.Severity {
	switch {
	case share >= 0.8:
		return model.SeverityCritical
	case share >= 0.6:
		return model.SeveritySevere
	default:
		return model.SeverityWarning
	}
}
