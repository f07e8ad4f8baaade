// Package cursor implements the resume position of a run status sensor.
//
// A cursor records the storage id of the last event a sensor consumed and a
// human-meaningful update timestamp. It is persisted as an opaque string by
// the cursor store; this package owns the string format.
//
// Format: canonical JSON tagged with a class name, e.g.
//
//	{"__class__":"RunStatusSensorCursor","record_id":42,"update_timestamp":"2026-01-02T03:04:05Z"}
//
// The class tag doubles as the format version. Cursors written under the
// legacy tag "PipelineSensorCursor" still decode.
package cursor
