package token

import (
	"net/url"
	"strings"

	"gatepass/internal/status"
	"gatepass/models"
)

// Dialect identifies the wire form a token arrived in. It is only used to
// decide whether the backing store can decode the same string itself; the
// canonical in-memory form is always a TicketPayload.
type Dialect string

const (
	DialectCompact Dialect = "compact"
	DialectLegacy  Dialect = "legacy"
	DialectLines   Dialect = "lines"
)

// ParseResult is the normalized outcome of recognizing any token dialect.
type ParseResult struct {
	Payload *models.TicketPayload
	Dialect Dialect
	// Raw is the string the backing store should receive for reconciliation.
	// For URL-embedded tokens this is the unwrapped inner token.
	Raw string
}

// ServerDecodable reports whether the store can re-decode this token itself.
// Line-delimited tickets and fallback payloads are display-only.
func (r ParseResult) ServerDecodable() bool {
	if r.Payload != nil && r.Payload.IsFallback {
		return false
	}
	return r.Dialect == DialectCompact || r.Dialect == DialectLegacy
}

// lineMarker opens every line-delimited ticket body.
const lineMarker = "EVENT TICKET"

// Parse classifies and normalizes a raw scanned string. Dialects are tried
// in fixed priority order: URL-embedded first (it wraps another dialect),
// then the explicit line-delimited marker, then base64 legacy decode, and
// only on failure the segment/line fallbacks. Every failure collapses into
// ErrUnrecognizedToken.
func Parse(raw string) (*ParseResult, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, status.ErrUnrecognizedToken
	}

	if inner, ok := unwrapURL(raw); ok {
		return Parse(inner)
	}

	if strings.Contains(strings.ToUpper(raw), lineMarker) {
		if p, err := decodeLines(raw); err == nil {
			return &ParseResult{Payload: p, Dialect: DialectLines, Raw: raw}, nil
		}
		return nil, status.ErrUnrecognizedToken
	}

	if p, err := DecodeLegacy(raw); err == nil {
		return &ParseResult{Payload: p, Dialect: DialectLegacy, Raw: raw}, nil
	}

	if strings.Contains(raw, Delimiter) {
		if p, err := DecodeCompact(raw); err == nil {
			return &ParseResult{Payload: p, Dialect: DialectCompact, Raw: raw}, nil
		}
	}

	if p, err := decodeLines(raw); err == nil {
		return &ParseResult{Payload: p, Dialect: DialectLines, Raw: raw}, nil
	}

	return nil, status.ErrUnrecognizedToken
}

// unwrapURL extracts the trailing path segment of a URL-embedded token, e.g.
// https://campus.example/t/<token>.
func unwrapURL(raw string) (string, bool) {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" || u.Path == "/" {
		return "", false
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	last := segments[len(segments)-1]
	if decoded, err := url.PathUnescape(last); err == nil {
		last = decoded
	}
	if last == "" {
		return "", false
	}
	return last, true
}

// lineLabels maps both terse and verbose label spellings onto payload
// fields. Older printed tickets used the verbose forms.
var lineLabels = map[string]string{
	"N":               keyName,
	"NAME":            keyName,
	"E":               keyEmail,
	"EMAIL":           keyEmail,
	"R":               keyRoll,
	"ROLL":            keyRoll,
	"ROLL NO":         keyRoll,
	"ROLL NUMBER":     keyRoll,
	"D":               keyDepartment,
	"DEPT":            keyDepartment,
	"DEPARTMENT":      keyDepartment,
	"Y":               keyYear,
	"YEAR":            keyYear,
	"C":               keyClass,
	"CLASS":           keyClass,
	"SEMESTER":        keyClass,
	"T":               keyTitle,
	"EVENT":           keyTitle,
	"TITLE":           keyTitle,
	"L":               keyLocation,
	"VENUE":           keyLocation,
	"LOCATION":        keyLocation,
	"DT":              keyDate,
	"DATE":            keyDate,
	"TM":              keyTime,
	"TIME":            keyTime,
	"EID":             keyEventID,
	"EVENT ID":        keyEventID,
	"RID":             keyRegID,
	"REG NO":          keyRegID,
	"REGISTRATION":    keyRegID,
	"REGISTRATION ID": keyRegID,
}

// decodeLines parses the legacy line-delimited text form: one Label: value
// per line, section markers ignored.
func decodeLines(raw string) (*models.TicketPayload, error) {
	var p models.TicketPayload
	var dateStr, timeStr string
	matched := false

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.EqualFold(line, lineMarker) {
			continue
		}

		label, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key, known := lineLabels[strings.ToUpper(strings.TrimSpace(label))]
		if !known {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
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
