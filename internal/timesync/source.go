package timesync

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultTimeout bounds a single source attempt.
const DefaultTimeout = 5 * time.Second

// Source is one reference time endpoint. Field is a gjson path into the JSON
// response body; when empty or unusable the raw-digits fallback is used.
type Source struct {
	Name     string        `mapstructure:"name" json:"name"`
	Endpoint string        `mapstructure:"endpoint" json:"endpoint"`
	Field    string        `mapstructure:"field" json:"field,omitempty"`
	Timeout  time.Duration `mapstructure:"timeout" json:"timeout,omitempty"`
}

func (s Source) timeout() time.Duration {
	if s.Timeout <= 0 {
		return DefaultTimeout
	}
	return s.Timeout
}

// DefaultSources lists the reference endpoints in priority order.
func DefaultSources() []Source {
	return []Source{
		{Name: "taobao", Endpoint: "https://api.m.taobao.com/rest/api3.do?api=mtop.common.getTimestamp", Field: "data.t"},
		{Name: "worldtimeapi", Endpoint: "https://worldtimeapi.org/api/timezone/Etc/UTC", Field: "utc_datetime"},
		{Name: "timeapi", Endpoint: "https://timeapi.io/api/Time/current/zone?timeZone=UTC", Field: "dateTime"},
		{Name: "jsontest", Endpoint: "http://date.jsontest.com/", Field: "milliseconds_since_epoch"},
	}
}

var (
	ErrUnparseable = errors.New("no timestamp in response")

	msDigits  = regexp.MustCompile(`\b(\d{13})\b`)
	secDigits = regexp.MustCompile(`\b(\d{10})\b`)
)

// zone-less layouts are read as UTC
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp extracts an instant from a response body. The structured
// field is tried first, then a raw 13-digit millisecond or 10-digit second
// epoch anywhere in the text.
func ParseTimestamp(body []byte, field string) (time.Time, error) {
	if field != "" && gjson.ValidBytes(body) {
		r := gjson.GetBytes(body, field)
		if r.Exists() {
			if t, ok := parseValue(r); ok {
				return t, nil
			}
		}
	}
	text := string(body)
	if m := msDigits.FindStringSubmatch(text); m != nil {
		ms, err := strconv.ParseInt(m[1], 10, 64)
		if err == nil {
			return time.UnixMilli(ms), nil
		}
	}
	if m := secDigits.FindStringSubmatch(text); m != nil {
		s, err := strconv.ParseInt(m[1], 10, 64)
		if err == nil {
			return time.Unix(s, 0), nil
		}
	}
	return time.Time{}, ErrUnparseable
}

func parseValue(r gjson.Result) (time.Time, bool) {
	switch r.Type {
	case gjson.Number:
		return fromEpoch(r.Int())
	case gjson.String:
		s := strings.TrimSpace(r.String())
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return fromEpoch(n)
		}
		for _, layout := range isoLayouts {
			if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// values at or above 1e11 are taken as milliseconds
func fromEpoch(n int64) (time.Time, bool) {
	switch {
	case n <= 0:
		return time.Time{}, false
	case n >= 1e11:
		return time.UnixMilli(n), true
	default:
		return time.Unix(n, 0), true
	}
}

func (s Source) String() string {
	return fmt.Sprintf("%s(%s)", s.Name, s.Endpoint)
}
