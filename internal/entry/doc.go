// Package entry defines the timing entry model shared by every stage of the
// capture pipeline.
//
// The host timeline emits heterogeneous [RawEvent] values. [Normalize] maps
// each one onto one of three closed snapshot shapes or discards it:
//
//	snap, ok := entry.Normalize(raw)
//	if !ok {
//		return // unrecognized kind, expected filtering
//	}
//
// # Snapshots
//
// [Snapshot] is a closed sum type implemented only by [ResourceSnapshot],
// [HTTPSnapshot] and [MeasureSnapshot]. Consumers switch on the concrete type:
//
//	switch s := snap.(type) {
//	case entry.HTTPSnapshot:
//	case entry.ResourceSnapshot:
//	case entry.MeasureSnapshot:
//	}
//
// The JSON form of every snapshot carries an "entryType" discriminator and
// camelCase field names so persisted artifacts stay comparable across runs.
// [Decode] reverses the encoding.
//
// # Units
//
// Durations and timestamps are float64 milliseconds relative to the host
// timeline origin. No unit conversion happens in this package.
package entry
