package api

import (
	"encoding/json/v2"
	"fmt"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

// FlexTime is a time type that can unmarshal from any of the formats
// record-creating clients send:
//   - RFC3339 string: "2026-03-14T18:30:00Z"
//   - date-only string: "2026-03-14" (midnight UTC)
//   - epoch milliseconds (number): 1773513000000
//   - epoch milliseconds (string): "1773513000000"
//
// It always marshals to RFC3339 format for consistency.
type FlexTime struct {
	time.Time
}

// Schema describes FlexTime to the OpenAPI generator. Without it the
// reflector would emit an object schema for the embedded time.Time and
// request validation would reject the string and number forms this type
// exists to accept.
func (ft FlexTime) Schema(_ huma.Registry) *huma.Schema {
	return &huma.Schema{
		Description: "Time as RFC3339, date (YYYY-MM-DD), or epoch milliseconds",
		OneOf: []*huma.Schema{
			{Type: huma.TypeString},
			{Type: huma.TypeNumber},
		},
	}
}

// UnmarshalJSON handles flexible time parsing from JSON.
func (ft *FlexTime) UnmarshalJSON(data []byte) error {
	// Try to unmarshal as string first
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			ft.Time = t
			return nil
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			ft.Time = t
			return nil
		}
		if t, err := time.Parse("2006-01-02", s); err == nil {
			ft.Time = t
			return nil
		}
		// Try as epoch milliseconds string
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			ft.Time = time.UnixMilli(ms)
			return nil
		}
		return fmt.Errorf("cannot parse time string: %s", s)
	}

	// Try as number (epoch milliseconds)
	var ms int64
	if err := json.Unmarshal(data, &ms); err == nil {
		ft.Time = time.UnixMilli(ms)
		return nil
	}

	// Some JSON encoders emit large numbers as floats
	var msFloat float64
	if err := json.Unmarshal(data, &msFloat); err == nil {
		ft.Time = time.UnixMilli(int64(msFloat))
		return nil
	}

	return fmt.Errorf("cannot unmarshal %s into FlexTime", string(data))
}

// MarshalJSON outputs time in RFC3339 format.
func (ft FlexTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(ft.Format(time.RFC3339))
}

// ToTime returns the underlying time.Time value.
func (ft FlexTime) ToTime() time.Time {
	return ft.Time
}
