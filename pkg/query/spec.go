// Package query canonicalizes flight-status query specifications.
//
// A Spec is an immutable set of filter fields. Its Signature is the
// canonical identity used for checkpoint deduplication and artifact
// addressing: non-empty "field=value" pairs joined with "&" in the order
// of Fields.
package query

import (
	"sort"
	"strings"
)

// Filter field names accepted by the flight-status API.
const (
	FieldAircraftRegistration = "aircraftRegistration"
	FieldAircraftType         = "aircraftType"
	FieldArrivalCity          = "arrivalCity"
	FieldCarrierCode          = "carrierCode"
	FieldConsumerHost         = "consumerHost"
	FieldDepartureCity        = "departureCity"
	FieldDestination          = "destination"
	FieldFlightNumber         = "flightNumber"
	FieldMovementType         = "movementType"
	FieldOperatingAirlineCode = "operatingAirlineCode"
	FieldOperationalSuffix    = "operationalSuffix"
	FieldOrigin               = "origin"
	FieldServiceType          = "serviceType"
	FieldTimeOriginType       = "timeOriginType"
	FieldTimeType             = "timeType"
	FieldStartRange           = "startRange"
	FieldEndRange             = "endRange"
)

// Fields is the fixed signature order. Changing it changes every signature
// and therefore every artifact name.
var Fields = []string{
	FieldAircraftRegistration,
	FieldAircraftType,
	FieldArrivalCity,
	FieldCarrierCode,
	FieldConsumerHost,
	FieldDepartureCity,
	FieldDestination,
	FieldFlightNumber,
	FieldMovementType,
	FieldOperatingAirlineCode,
	FieldOperationalSuffix,
	FieldOrigin,
	FieldServiceType,
	FieldTimeOriginType,
	FieldTimeType,
	FieldStartRange,
	FieldEndRange,
}

var fieldIndex = func() map[string]int {
	idx := make(map[string]int, len(Fields))
	for i, f := range Fields {
		idx[f] = i
	}
	return idx
}()

// IsField reports whether name is a known filter field.
func IsField(name string) bool {
	_, ok := fieldIndex[name]
	return ok
}

// IsDateField reports whether name is one of the date-range bounds.
func IsDateField(name string) bool {
	return name == FieldStartRange || name == FieldEndRange
}

// missingValues are the spellings of "no value" found in exported tables.
var missingValues = map[string]bool{
	"":      true,
	"nan":   true,
	"NaN":   true,
	"[nan]": true,
	"None":  true,
	"<NA>":  true,
}

// IsMissing reports whether v counts as an absent value.
func IsMissing(v string) bool {
	return missingValues[strings.TrimSpace(v)]
}

// Spec is an immutable query specification. The zero value is an empty spec.
type Spec struct {
	values map[string]string
}

// NewSpec builds a Spec from a field map. Unknown fields are ignored and
// missing values are dropped, so two maps that differ only in present-but-empty
// fields produce equal specs.
func NewSpec(fields map[string]string) Spec {
	values := make(map[string]string, len(fields))
	for k, v := range fields {
		if !IsField(k) || IsMissing(v) {
			continue
		}
		values[k] = strings.TrimSpace(v)
	}
	return Spec{values: values}
}

// Get returns the value of a field, or "" if absent.
func (s Spec) Get(field string) string {
	return s.values[field]
}

// StartRange returns the lower date bound.
func (s Spec) StartRange() string { return s.values[FieldStartRange] }

// EndRange returns the upper date bound.
func (s Spec) EndRange() string { return s.values[FieldEndRange] }

// With returns a copy of s with field set to value. An empty value removes the field.
func (s Spec) With(field, value string) Spec {
	next := s.Values()
	next[field] = value
	return NewSpec(next)
}

// Values returns a copy of the non-empty fields.
func (s Spec) Values() map[string]string {
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Len returns the number of non-empty fields.
func (s Spec) Len() int {
	return len(s.values)
}

// Signature returns the canonical identity of the spec.
func (s Spec) Signature() string {
	return s.join(func(string) bool { return true })
}

// Family returns the signature without the date-range bounds. Specs that
// differ only in their window share a family.
func (s Spec) Family() string {
	return s.join(func(f string) bool { return !IsDateField(f) })
}

// Equal reports whether two specs have identical non-empty fields.
func (s Spec) Equal(other Spec) bool {
	return s.Signature() == other.Signature()
}

// String implements fmt.Stringer.
func (s Spec) String() string {
	return s.Signature()
}

func (s Spec) join(include func(string) bool) string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		if include(k) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return fieldIndex[keys[i]] < fieldIndex[keys[j]] })

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+s.values[k])
	}
	return strings.Join(parts, "&")
}
