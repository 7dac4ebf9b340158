package tools

import (
	"context"
	"time"
)

// DatetimeTool reports the current date and time, optionally in a
// caller-supplied Go layout and IANA time zone.
type DatetimeTool struct {
	now func() time.Time
}

// NewDatetimeTool creates the datetime tool.
func NewDatetimeTool() *DatetimeTool {
	return &DatetimeTool{now: time.Now}
}

func (t *DatetimeTool) Name() string { return "datetime" }

func (t *DatetimeTool) Description() string {
	return "Returns the current date and time, optionally formatted and zone-adjusted."
}

func (t *DatetimeTool) Params() []Param {
	return []Param{
		{Name: "format", Type: "string", Description: "Go time layout, e.g. 2006-01-02 15:04", Required: false},
		{Name: "timezone", Type: "string", Description: "IANA zone name, e.g. America/New_York", Required: false, Default: "UTC"},
	}
}

func (t *DatetimeTool) Execute(ctx context.Context, params map[string]interface{}) Result {
	zone, _ := params["timezone"].(string)
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return Fail("unknown timezone %q", zone)
	}
	now := t.now().In(loc)

	layout := time.RFC3339
	if f, ok := params["format"].(string); ok && f != "" {
		// A valid layout must contain at least one reference-time
		// component and re-parse its own output.
		formatted := now.Format(f)
		if formatted == f {
			return Fail("invalid time format %q", f)
		}
		if _, err := time.Parse(f, formatted); err != nil {
			return Fail("invalid time format %q", f)
		}
		layout = f
	}

	return OK(map[string]interface{}{
		"datetime":  now.Format(layout),
		"timezone":  loc.String(),
		"unix":      now.Unix(),
		"weekday":   now.Weekday().String(),
		"iso_date":  now.Format("2006-01-02"),
		"iso_clock": now.Format("15:04:05"),
	})
}
