// Package nid validates Egyptian national IDs and extracts the
// structured information encoded in them.
//
// A national ID is exactly 14 decimal digits laid out as fixed-width
// fields: century(1) year(2) month(2) day(2) governorate(2) serial(4)
// checksum(1). Parsing is pure and deterministic; every input maps to
// either an Identity or exactly one *ValidationError.
package nid

import (
	"fmt"
	"time"
)

// ErrorKind classifies why a candidate ID was rejected.
type ErrorKind string

const (
	// MalformedFormat means the candidate is not exactly 14 ASCII digits.
	MalformedFormat ErrorKind = "malformed_format"
	// InvalidCentury means the leading century digit is not a recognized value.
	InvalidCentury ErrorKind = "invalid_century"
	// InvalidDate means the embedded birth date is not a valid calendar date.
	InvalidDate ErrorKind = "invalid_date"
	// UnknownGovernorate means the 2-digit governorate code is not in the table.
	UnknownGovernorate ErrorKind = "unknown_governorate"
)

// ValidationError reports a rejected candidate ID along with the
// specific rule it violated.
type ValidationError struct {
	Kind    ErrorKind
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(kind ErrorKind, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Identity is the structured information extracted from a valid
// national ID. Values are never mutated after construction.
type Identity struct {
	// Century is the leading century digit (2 for 1900s, 3 for 2000s).
	Century int
	// BirthDate is the calendar-validated date of birth.
	BirthDate time.Time
	// GovernorateCode is the raw 2-digit governorate code.
	GovernorateCode string
	// Governorate is the resolved governorate name.
	Governorate string
	// SerialNumber is the 4-digit serial, zero padding preserved.
	SerialNumber string
	// Gender is derived from the parity of the last serial digit.
	Gender string
	// Checksum is the trailing digit, extracted verbatim. No checksum
	// algorithm is published for it, so it is reported unverified.
	Checksum int
}

// Gender labels derived from the serial number's last digit.
const (
	GenderMale   = "Male"
	GenderFemale = "Female"
)

// UnknownGovernorateName is the sentinel used in lenient mode when a
// governorate code has no table entry.
const UnknownGovernorateName = "Unknown"

// GovernoratePolicy controls how unknown governorate codes are handled.
type GovernoratePolicy int

const (
	// Strict rejects IDs whose governorate code is not in the table.
	Strict GovernoratePolicy = iota
	// Lenient accepts unknown codes and labels them "Unknown".
	Lenient
)

// Parser validates candidate national IDs against the fixed positional
// encoding. The zero value is a usable strict parser.
type Parser struct {
	policy GovernoratePolicy
}

// NewParser returns a parser with the given unknown-governorate policy.
func NewParser(policy GovernoratePolicy) *Parser {
	return &Parser{policy: policy}
}

// Parse validates candidate and extracts its encoded fields. On failure
// the returned error is always a *ValidationError; the function never
// panics regardless of input.
func (p *Parser) Parse(candidate string) (Identity, error) {
	if len(candidate) != 14 {
		return Identity{}, invalid(MalformedFormat, "national ID must be 14 digits long")
	}
	for _, c := range []byte(candidate) {
		if c < '0' || c > '9' {
			return Identity{}, invalid(MalformedFormat, "national ID must contain digits only")
		}
	}

	century := int(candidate[0] - '0')
	var baseYear int
	switch century {
	case 2:
		baseYear = 1900
	case 3:
		baseYear = 2000
	default:
		return Identity{}, invalid(InvalidCentury, "unrecognized century digit %d in national ID", century)
	}

	year := baseYear + atoi2(candidate[1:3])
	month := atoi2(candidate[3:5])
	day := atoi2(candidate[5:7])
	birthDate, ok := calendarDate(year, month, day)
	if !ok {
		return Identity{}, invalid(InvalidDate, "invalid birth date in national ID")
	}

	govCode := candidate[7:9]
	govName, known := GovernorateName(govCode)
	if !known {
		if p.policy == Strict {
			return Identity{}, invalid(UnknownGovernorate, "invalid governorate code %s in national ID", govCode)
		}
		govName = UnknownGovernorateName
	}

	serial := candidate[9:13]
	gender := GenderMale
	if (serial[3]-'0')%2 == 0 {
		gender = GenderFemale
	}

	return Identity{
		Century:         century,
		BirthDate:       birthDate,
		GovernorateCode: govCode,
		Governorate:     govName,
		SerialNumber:    serial,
		Gender:          gender,
		Checksum:        int(candidate[13] - '0'),
	}, nil
}

// atoi2 converts a 2-digit ASCII slice; callers guarantee digits only.
func atoi2(s string) int {
	return int(s[0]-'0')*10 + int(s[1]-'0')
}

// calendarDate builds a UTC date and reports whether year/month/day
// form a valid calendar date, including the leap-year rule.
func calendarDate(year, month, day int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || day > daysInMonth(year, month) {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), true
}

func daysInMonth(year, month int) int {
	switch month {
	case 1, 3, 5, 7, 8, 10, 12:
		return 31
	case 4, 6, 9, 11:
		return 30
	default:
		if isLeapYear(year) {
			return 29
		}
		return 28
	}
}

func isLeapYear(year int) bool {
	if year%4 != 0 {
		return false
	}
	if year%100 != 0 {
		return true
	}
	return year%400 == 0
}
