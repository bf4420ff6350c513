// Package address checks destination addresses before any carrier is
// called: structure per country, PO boxes, and high-risk destinations.
package address

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tournevent/shiprouter/pkg/shipper"
)

// Issue codes.
const (
	CodeRequired      = "required"
	CodeInvalidFormat = "invalid_format"
	CodeUnknownRegion = "unknown_region"
	CodePOBox         = "po_box"
	CodeHighRisk      = "high_risk"
)

// Issue is one problem found on one field.
type Issue struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result is the verdict on an address. Warnings never make an address invalid.
type Result struct {
	Valid         bool     `json:"valid"`
	Errors        []Issue  `json:"errors,omitempty"`
	Warnings      []Issue  `json:"warnings,omitempty"`
	POBox         bool     `json:"po_box"`
	HighRisk      bool     `json:"high_risk"`
	HighRiskFlags []string `json:"high_risk_flags,omitempty"`
}

// Error converts an invalid result into a non-retryable StandardizedError,
// or returns nil for a valid address.
func (r Result) Error() *shipper.StandardizedError {
	if r.Valid {
		return nil
	}
	class := shipper.ClassInvalidAddress
	if r.POBox {
		class = shipper.ClassPOBoxNotSupported
	}

	msgs := make([]string, 0, len(r.Errors))
	for _, issue := range r.Errors {
		msgs = append(msgs, issue.Message)
	}
	cause := shipper.ErrInvalidAddress
	if r.POBox {
		cause = shipper.ErrPOBoxNotSupported
	}
	return shipper.NewStandardizedError(class, "", strings.Join(msgs, "; ")).
		WithCause(cause).
		WithDetail("issues", r.Errors)
}

// schema is the structural format of one country's addresses.
type schema struct {
	postal       *regexp.Regexp
	postalFormat string
	regions      map[string]bool // nil means any region is accepted
	regionNeeded bool
}

func set(codes ...string) map[string]bool {
	m := make(map[string]bool, len(codes))
	for _, c := range codes {
		m[c] = true
	}
	return m
}

var schemas = map[string]schema{
	"US": {
		postal:       regexp.MustCompile(`^\d{5}(-\d{4})?$`),
		postalFormat: "12345 or 12345-6789",
		regionNeeded: true,
		regions: set(
			"AL", "AK", "AZ", "AR", "CA", "CO", "CT", "DE", "FL", "GA",
			"HI", "ID", "IL", "IN", "IA", "KS", "KY", "LA", "ME", "MD",
			"MA", "MI", "MN", "MS", "MO", "MT", "NE", "NV", "NH", "NJ",
			"NM", "NY", "NC", "ND", "OH", "OK", "OR", "PA", "RI", "SC",
			"SD", "TN", "TX", "UT", "VT", "VA", "WA", "WV", "WI", "WY",
			"DC", "PR", "VI", "GU", "AS", "MP", "AA", "AE", "AP",
		),
	},
	"CA": {
		postal:       regexp.MustCompile(`^[A-Z]\d[A-Z] ?\d[A-Z]\d$`),
		postalFormat: "A1A 1A1",
		regionNeeded: true,
		regions:      set("AB", "BC", "MB", "NB", "NL", "NS", "NT", "NU", "ON", "PE", "QC", "SK", "YT"),
	},
	"GB": {
		postal:       regexp.MustCompile(`^[A-Z]{1,2}\d[A-Z\d]? ?\d[A-Z]{2}$`),
		postalFormat: "SW1A 1AA",
	},
	"AU": {
		postal:       regexp.MustCompile(`^\d{4}$`),
		postalFormat: "4 digits",
		regionNeeded: true,
		regions:      set("NSW", "VIC", "QLD", "SA", "WA", "TAS", "NT", "ACT"),
	},
}

const maxDefaultPostalLen = 12

var (
	countryPattern = regexp.MustCompile(`^[A-Z]{2}$`)
	nonDigit       = regexp.MustCompile(`\D`)

	poBoxPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bp\.?\s*o\.?\s*box\b`),
		regexp.MustCompile(`(?i)\bpost\s+office\s+box\b`),
		regexp.MustCompile(`(?i)\bpob\b`),
		regexp.MustCompile(`(?i)^\s*box\s+\d+`),
	}

	highRiskPatterns = map[string]*regexp.Regexp{
		"freight_forwarder": regexp.MustCompile(`(?i)\b(freight|package|parcel|mail)\s+forward(er|ing)?\b`),
		"reshipper":         regexp.MustCompile(`(?i)\bre-?ship(per|ping)?\b`),
		"military":          regexp.MustCompile(`(?i)\b(APO|FPO|DPO)\b`),
		"general_delivery":  regexp.MustCompile(`(?i)\bgeneral\s+delivery\b`),
	}
	highRiskOrder = []string{"freight_forwarder", "reshipper", "military", "general_delivery"}
)

// Config tunes business rules.
type Config struct {
	AllowPOBox bool
}

// Validator validates addresses. It is stateless and safe for concurrent use.
type Validator struct {
	config Config
}

// New creates a Validator.
func New(cfg Config) *Validator {
	return &Validator{config: cfg}
}

// Validate checks required fields, the country schema, phone format, PO box
// use and high-risk markers.
func (v *Validator) Validate(addr shipper.Address) Result {
	var res Result
	addErr := func(field, code, msg string) {
		res.Errors = append(res.Errors, Issue{Field: field, Code: code, Message: msg})
	}

	if strings.TrimSpace(addr.Name) == "" && strings.TrimSpace(addr.Company) == "" {
		addErr("name", CodeRequired, "recipient name is required")
	}
	if strings.TrimSpace(addr.Line1) == "" {
		addErr("line1", CodeRequired, "street address is required")
	}
	if strings.TrimSpace(addr.City) == "" {
		addErr("city", CodeRequired, "city is required")
	}

	country := strings.ToUpper(strings.TrimSpace(addr.CountryCode))
	if !countryPattern.MatchString(country) {
		addErr("country_code", CodeInvalidFormat, "country must be an ISO 3166-1 alpha-2 code")
	} else {
		res.Errors = append(res.Errors, checkSchema(country, addr)...)
	}

	if phone := strings.TrimSpace(addr.Phone); phone != "" {
		digits := len(nonDigit.ReplaceAllString(phone, ""))
		if digits < 7 || digits > 15 {
			addErr("phone", CodeInvalidFormat, "phone number must have 7 to 15 digits")
		}
	}

	if IsPOBox(addr.Line1) || IsPOBox(addr.Line2) {
		res.POBox = true
		if !v.config.AllowPOBox {
			addErr("line1", CodePOBox, "PO Box addresses are not supported")
		} else {
			res.Warnings = append(res.Warnings, Issue{Field: "line1", Code: CodePOBox, Message: "PO Box address"})
		}
	}

	res.HighRiskFlags = HighRiskFlags(addr)
	if len(res.HighRiskFlags) > 0 {
		res.HighRisk = true
		res.Warnings = append(res.Warnings, Issue{
			Field:   "address",
			Code:    CodeHighRisk,
			Message: "high-risk destination: " + strings.Join(res.HighRiskFlags, ", "),
		})
	}

	res.Valid = len(res.Errors) == 0
	return res
}

func checkSchema(country string, addr shipper.Address) []Issue {
	var issues []Issue
	postal := strings.ToUpper(strings.TrimSpace(addr.PostalCode))
	region := strings.ToUpper(strings.TrimSpace(addr.Region))

	s, ok := schemas[country]
	if !ok {
		if postal == "" {
			issues = append(issues, Issue{Field: "postal_code", Code: CodeRequired, Message: "postal code is required"})
		} else if len(postal) > maxDefaultPostalLen {
			issues = append(issues, Issue{Field: "postal_code", Code: CodeInvalidFormat,
				Message: fmt.Sprintf("postal code must be at most %d characters", maxDefaultPostalLen)})
		}
		return issues
	}

	switch {
	case postal == "":
		issues = append(issues, Issue{Field: "postal_code", Code: CodeRequired, Message: "postal code is required"})
	case !s.postal.MatchString(postal):
		issues = append(issues, Issue{Field: "postal_code", Code: CodeInvalidFormat,
			Message: fmt.Sprintf("postal code %q does not match %s format %s", addr.PostalCode, country, s.postalFormat)})
	}

	switch {
	case region == "" && s.regionNeeded:
		issues = append(issues, Issue{Field: "region", Code: CodeRequired, Message: "state or province is required"})
	case region != "" && s.regions != nil && !s.regions[region]:
		issues = append(issues, Issue{Field: "region", Code: CodeUnknownRegion,
			Message: fmt.Sprintf("%q is not a valid %s state or province", addr.Region, country)})
	}
	return issues
}

// IsPOBox reports whether a street line designates a post office box.
// Private mailboxes (PMB) are street addresses and do not match.
func IsPOBox(line string) bool {
	if strings.TrimSpace(line) == "" {
		return false
	}
	for _, p := range poBoxPatterns {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}

// HighRiskFlags returns the high-risk markers found on an address.
func HighRiskFlags(addr shipper.Address) []string {
	text := strings.Join([]string{addr.Company, addr.Line1, addr.Line2, addr.City}, " ")
	var flags []string
	for _, name := range highRiskOrder {
		if highRiskPatterns[name].MatchString(text) {
			flags = append(flags, name)
		}
	}
	return flags
}
