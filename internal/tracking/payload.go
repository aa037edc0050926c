package tracking

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"asset-tracker-api/internal/models"
)

// RawRead is one entry of a portal batch as it arrived on the wire. Only the
// JSON shape has been checked; Engine.Ingest validates the content.
type RawRead struct {
	UID       string
	Timestamp string
	Metadata  models.Metadata
	RSSI      *float64
	Antenna   *int
	// Problem is set when the entry could not be decoded at all.
	Problem string
}

type wireRead struct {
	UID       json.RawMessage `json:"uid"`
	Timestamp *string         `json:"timestamp"`
	Metadata  json.RawMessage `json:"metadata"`
	RSSI      json.RawMessage `json:"rssi"`
	Antenna   json.RawMessage `json:"antenna"`
}

// DecodeBatch parses an ingestion body holding either a single read object or
// an array of them. A body that is neither is InvalidInput; a malformed entry
// inside an array is returned with Problem set so siblings still go through.
func DecodeBatch(body []byte) ([]RawRead, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, invalidf("empty body")
	}
	if !json.Valid(body) {
		return nil, invalidf("malformed JSON body")
	}
	var items []json.RawMessage
	switch body[0] {
	case '[':
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, invalidf("malformed read array: %v", err)
		}
	case '{':
		items = []json.RawMessage{body}
	default:
		return nil, invalidf("body must be a read object or an array of reads")
	}

	reads := make([]RawRead, len(items))
	for i, item := range items {
		reads[i] = decodeRead(item)
	}
	return reads, nil
}

func decodeRead(item json.RawMessage) RawRead {
	var w wireRead
	if err := json.Unmarshal(item, &w); err != nil {
		return RawRead{Problem: "read must be an object"}
	}
	var rr RawRead
	uid, ok := uidString(w.UID)
	if !ok {
		rr.Problem = "uid must be a string or number"
	}
	rr.UID = uid
	if w.Timestamp != nil {
		rr.Timestamp = *w.Timestamp
	}
	rr.Metadata = models.MetadataFromJSON(w.Metadata)
	if f, ok, err := optionalNumber(w.RSSI); err != nil {
		rr.Problem = "rssi must be a number"
	} else if ok {
		rr.RSSI = &f
	}
	if f, ok, err := optionalNumber(w.Antenna); err != nil || (ok && f != math.Trunc(f)) {
		rr.Problem = "antenna must be an integer"
	} else if ok {
		n := int(f)
		rr.Antenna = &n
	}
	return rr
}

// uidString accepts a JSON string or number. Missing and null are left empty
// for the validator to reject.
func uidString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", false
}

func optionalNumber(raw json.RawMessage) (float64, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0, false, err
	}
	return f, true, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601 timestamp. Values without a zone are UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Truncate(time.Microsecond), nil
		}
	}
	return time.Time{}, invalidf("timestamp %q is not ISO-8601", s)
}
