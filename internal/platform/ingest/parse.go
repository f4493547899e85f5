package ingest

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/xuri/excelize/v2"
)

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
	"1/2/2006 3:04:05 PM",
	"1/2/2006 3:04 PM",
	"1/2/2006",
	"1/2/06 15:04",
	"1/2/06 3:04 PM",
	"1/2/06",
	"2-Jan-2006 15:04",
	"2-Jan-2006",
}

// Serial day numbers Excel can represent (1900-01-01 through 9999-12-31).
const (
	minExcelSerial = 1
	maxExcelSerial = 2958465
)

// ParseTimestamp parses a dictation time written in a common US or ISO layout,
// as an Excel serial date, or in any form cast understands.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	if serial, err := cast.ToFloat64E(s); err == nil {
		if serial < minExcelSerial || serial > maxExcelSerial {
			return time.Time{}, fmt.Errorf("serial date %q out of range", s)
		}
		return excelize.ExcelDateToTime(serial, false)
	}
	t, err := cast.ToTimeE(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
	}
	return t, nil
}

// ParseValue parses a productivity value, tolerating thousands separators.
// NaN and infinities are rejected.
func ParseValue(s string) (float64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}
	v, err := cast.ToFloat64E(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	return v, nil
}
