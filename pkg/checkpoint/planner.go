package checkpoint

import "time"

// WindowStep is the exclusive lower-bound step applied to a stored checkpoint,
// so the last accounted item is never listed again.
const WindowStep = time.Millisecond

// PlanWindow computes the next list window for stream.
//
// A stream with a stored checkpoint resumes one millisecond after it. A stream
// absent from the set starts at now; there is no historical backfill. The end
// of the window is left for the collector to set.
func PlanWindow(stream string, stored Set, now time.Time) ListWindow {
	if cp, ok := stored.Lookup(stream); ok {
		return ListWindow{
			StreamName:  stream,
			ListStartTs: Truncate(cp.LastCollectedTs).Add(WindowStep),
		}
	}
	return ListWindow{
		StreamName:  stream,
		ListStartTs: Truncate(now),
	}
}

// PlanWindows plans every configured stream in order. Streams found in the
// stored set but no longer configured are dropped.
func PlanWindows(streams []string, stored Set, now time.Time) []ListWindow {
	windows := make([]ListWindow, 0, len(streams))
	for _, stream := range streams {
		windows = append(windows, PlanWindow(stream, stored, now))
	}
	return windows
}
