package provider

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// FlexInt decodes integers that platforms send as numbers, numeric strings,
// floats or percentages ("98%"). Anything unparseable decodes as 0.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	var s string
	if data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	} else {
		s = string(data)
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		*f = 0
		return nil
	}
	*f = FlexInt(math.Round(v))
	return nil
}

// FlexString decodes ids that arrive as either JSON strings or numbers.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string { return string(f) }

// FlexTime decodes RFC 3339 timestamps (with or without zone), plain dates
// and unix seconds. Unparseable values leave the zero time.
type FlexTime struct{ time.Time }

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (f *FlexTime) UnmarshalJSON(data []byte) error {
	f.Time = time.Time{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] != '"' {
		if secs, err := strconv.ParseInt(string(data), 10, 64); err == nil && secs > 0 {
			f.Time = time.Unix(secs, 0).UTC()
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			f.Time = t.UTC()
			return nil
		}
	}
	return nil
}

// NamedTag is the {id, name} tag shape several platforms embed in account payloads.
// Some send bare strings instead of objects.
type NamedTag struct {
	ID   FlexString `json:"id"`
	Name string     `json:"name"`
}

func (t *NamedTag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &t.Name)
	}
	type plain NamedTag
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*t = NamedTag(p)
	return nil
}
