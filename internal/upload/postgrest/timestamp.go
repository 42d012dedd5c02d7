package postgrest

import "time"

// outputLayout is the canonical form for outbound timestamps: UTC,
// unqualified Z suffix. The remote controls what it returns; the sender
// controls what it sends.
const outputLayout = "2006-01-02T15:04:05Z"

// parseLayouts are the accepted inbound timestamp forms, in priority
// order. PostgreSQL timestamps may carry timezone offsets (although not
// encouraged); timezone-qualified forms are converted to UTC.
var parseLayouts = []string{
	"2006-01-02 15:04:05-07:00", // PostgreSQL with timezone: "2023-10-15 14:30:25+10:30"
	"2006-01-02 15:04:05-07",    // PostgreSQL with hour-only timezone: "2023-10-15 14:30:25+10"
	"2006-01-02T15:04:05Z",      // ISO 8601 UTC: "2023-10-15T14:30:25Z"
	"2006-01-02T15:04:05",       // ISO 8601 without timezone
	"2006-01-02 15:04:05",       // Simple format
}

// ParseTimestamp converts a remote timestamp string to epoch seconds.
//
// It returns 0 if the string matches none of the accepted forms. Callers
// must treat 0 as "no usable timestamp", never as a legitimate epoch
// value.
func ParseTimestamp(s string) int64 {
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix()
		}
	}
	return 0
}

// FormatTimestamp renders an epoch second in the canonical output form.
func FormatTimestamp(epoch int64) string {
	return time.Unix(epoch, 0).UTC().Format(outputLayout)
}
