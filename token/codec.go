package token

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"gatepass/internal/status"
	"gatepass/models"
)

// Compact dialect: ordered KEY:value segments joined by '|'. The segment set
// is tuned for QR density, so string fields are truncated and the event
// timestamp is split into a date block and a time block instead of one ISO
// string.
const Delimiter = "|"

const (
	keyName       = "N"
	keyEmail      = "E"
	keyRoll       = "R"
	keyDepartment = "D"
	keyYear       = "Y"
	keyClass      = "C"
	keyTitle      = "T"
	keyLocation   = "L"
	keyDate       = "DT"
	keyTime       = "TM"
	keyEventID    = "EID"
	keyRegID      = "RID"
)

// Truncation caps, in bytes, never splitting a rune. Scan reliability
// degrades with payload length, so completeness is traded for scannability.
// '|' is the reserved segment delimiter and cannot appear inside a value.
const (
	maxNameLen       = 30
	maxDepartmentLen = 20
	maxTitleLen      = 40
	maxLocationLen   = 30
)

const (
	dateLayout = "20060102"
	timeLayout = "1504"
)

// compactKeys holds every known key sorted longest first, so that DT: wins
// over D: during decode.
var compactKeys = func() []string {
	keys := []string{
		keyName, keyEmail, keyRoll, keyDepartment, keyYear, keyClass,
		keyTitle, keyLocation, keyDate, keyTime, keyEventID, keyRegID,
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	return keys
}()

// truncate caps s at max bytes on a rune boundary, so the result is always
// a valid UTF-8 prefix of the original.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// EncodeCompact serializes a payload into the compact dialect. Absent fields
// emit no segment at all.
func EncodeCompact(p models.TicketPayload) string {
	segments := make([]string, 0, 12)

	add := func(key, value string) {
		// An embedded delimiter would shed the rest of the value as a bogus
		// segment on decode.
		value = strings.TrimSpace(strings.ReplaceAll(value, Delimiter, " "))
		if value != "" {
			segments = append(segments, key+":"+value)
		}
	}

	add(keyName, truncate(p.Holder.Name, maxNameLen))
	add(keyEmail, p.Holder.Email)
	add(keyRoll, p.Holder.RollNumber)
	add(keyDepartment, truncate(p.Holder.Department, maxDepartmentLen))
	add(keyYear, p.Holder.Year)
	add(keyClass, p.Holder.Class)
	add(keyTitle, truncate(p.Event.Title, maxTitleLen))
	add(keyLocation, truncate(p.Event.Location, maxLocationLen))
	if p.Event.StartTime != nil {
		add(keyDate, p.Event.StartTime.UTC().Format(dateLayout))
		add(keyTime, p.Event.StartTime.UTC().Format(timeLayout))
	}
	add(keyEventID, p.Event.ID)
	add(keyRegID, p.RegistrationID)

	return strings.Join(segments, Delimiter)
}

// DecodeCompact parses the compact dialect. Unrecognized segments are
// ignored for forward compatibility. A decode recovering neither holder nor
// event data is reported as unrecognized.
func DecodeCompact(raw string) (*models.TicketPayload, error) {
	var p models.TicketPayload
	var dateStr, timeStr string
	matched := false

	for _, segment := range strings.Split(raw, Delimiter) {
		key, value, ok := matchSegment(segment)
		if !ok {
			continue
		}
		matched = true

		switch key {
		case keyName:
			p.Holder.Name = value
		case keyEmail:
			p.Holder.Email = value
		case keyRoll:
			p.Holder.RollNumber = value
		case keyDepartment:
			p.Holder.Department = value
		case keyYear:
			p.Holder.Year = value
		case keyClass:
			p.Holder.Class = value
		case keyTitle:
			p.Event.Title = value
		case keyLocation:
			p.Event.Location = value
		case keyDate:
			dateStr = value
		case keyTime:
			timeStr = value
		case keyEventID:
			p.Event.ID = value
		case keyRegID:
			p.RegistrationID = value
		}
	}

	if start, ok := parseDateTime(dateStr, timeStr); ok {
		p.Event.StartTime = &start
	}

	if !matched || !p.HasIdentity() {
		return nil, status.ErrUnrecognizedToken
	}
	return &p, nil
}

// matchSegment matches the longest known key prefix of a KEY:value segment.
func matchSegment(segment string) (key, value string, ok bool) {
	for _, k := range compactKeys {
		if strings.HasPrefix(segment, k+":") {
			return k, segment[len(k)+1:], true
		}
	}
	return "", "", false
}

func parseDateTime(dateStr, timeStr string) (time.Time, bool) {
	if dateStr == "" {
		return time.Time{}, false
	}
	if timeStr == "" {
		timeStr = "0000"
	}
	t, err := time.ParseInLocation(dateLayout+timeLayout, fmt.Sprintf("%s%s", dateStr, timeStr), time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
