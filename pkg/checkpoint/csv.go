package checkpoint

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jszwec/csvutil"

	"github.com/Sternrassler/flightstatus-harvester/pkg/query"
)

// record is the CSV layout of a matrix file. Filter columns come first in
// signature order, bookkeeping columns last. Numbers are kept as strings
// because files written by older tooling contain "" and "3.0".
type record struct {
	AircraftRegistration string `csv:"aircraftRegistration"`
	AircraftType         string `csv:"aircraftType"`
	ArrivalCity          string `csv:"arrivalCity"`
	CarrierCode          string `csv:"carrierCode"`
	ConsumerHost         string `csv:"consumerHost"`
	DepartureCity        string `csv:"departureCity"`
	Destination          string `csv:"destination"`
	FlightNumber         string `csv:"flightNumber"`
	MovementType         string `csv:"movementType"`
	OperatingAirlineCode string `csv:"operatingAirlineCode"`
	OperationalSuffix    string `csv:"operationalSuffix"`
	Origin               string `csv:"origin"`
	ServiceType          string `csv:"serviceType"`
	TimeOriginType       string `csv:"timeOriginType"`
	TimeType             string `csv:"timeType"`
	StartRange           string `csv:"startRange"`
	EndRange             string `csv:"endRange"`

	CallParameters string `csv:"call_parameters"`
	Response       string `csv:"response"`
	Message        string `csv:"message"`
	Timestamp      string `csv:"timestamp"`
	PagesRetrieved string `csv:"nb_of_pages_already_retrieved"`
	TotalPages     string `csv:"totalPages"`
	Completion     string `csv:"completion"`
	TotalFlights   string `csv:"totalFlights"`
}

func (r *record) filters() map[string]*string {
	return map[string]*string{
		query.FieldAircraftRegistration: &r.AircraftRegistration,
		query.FieldAircraftType:         &r.AircraftType,
		query.FieldArrivalCity:          &r.ArrivalCity,
		query.FieldCarrierCode:          &r.CarrierCode,
		query.FieldConsumerHost:         &r.ConsumerHost,
		query.FieldDepartureCity:        &r.DepartureCity,
		query.FieldDestination:          &r.Destination,
		query.FieldFlightNumber:         &r.FlightNumber,
		query.FieldMovementType:         &r.MovementType,
		query.FieldOperatingAirlineCode: &r.OperatingAirlineCode,
		query.FieldOperationalSuffix:    &r.OperationalSuffix,
		query.FieldOrigin:               &r.Origin,
		query.FieldServiceType:          &r.ServiceType,
		query.FieldTimeOriginType:       &r.TimeOriginType,
		query.FieldTimeType:             &r.TimeType,
		query.FieldStartRange:           &r.StartRange,
		query.FieldEndRange:             &r.EndRange,
	}
}

func (r *record) row() query.Row {
	row := make(query.Row, len(query.Fields))
	for field, v := range r.filters() {
		row[field] = *v
	}
	return row
}

func fromState(s State) record {
	var r record
	for field, v := range r.filters() {
		*v = s.Spec.Get(field)
	}

	r.CallParameters = s.Signature()
	r.Response = s.Response
	r.Message = s.Message
	if !s.Timestamp.IsZero() {
		r.Timestamp = s.Timestamp.Format(time.RFC3339)
	}
	if s.Response != "" || s.PagesRetrieved > 0 || s.TotalPages > 0 {
		r.PagesRetrieved = strconv.Itoa(s.PagesRetrieved)
		r.Completion = strconv.Itoa(s.Completion)
	}
	if s.TotalPages > 0 {
		r.TotalPages = strconv.Itoa(s.TotalPages)
	}
	if s.TotalFlights > 0 {
		r.TotalFlights = strconv.Itoa(s.TotalFlights)
	}
	return r
}

// decodeRecords parses a matrix file. An empty file has no rows.
func decodeRecords(data []byte) ([]record, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}

	var records []record
	if err := csvutil.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode matrix csv: %w", err)
	}
	return records, nil
}

func encodeRecords(records []record) ([]byte, error) {
	if len(records) == 0 {
		header, err := csvutil.Header(record{}, "csv")
		if err != nil {
			return nil, fmt.Errorf("matrix csv header: %w", err)
		}
		return []byte(strings.Join(header, ",") + "\n"), nil
	}

	data, err := csvutil.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode matrix csv: %w", err)
	}
	return data, nil
}

// parseCount reads integer bookkeeping values, tolerating "", "3.0" and
// percentages such as "67%".
func parseCount(column, v string) (int, error) {
	v = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v), "%"))
	if query.IsMissing(v) {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("column %s: %w", column, err)
	}
	return int(f), nil
}

func parseTimestamp(v string) time.Time {
	v = strings.TrimSpace(v)
	if query.IsMissing(v) {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02T15:04:05"} {
		if t, err := time.ParseInLocation(layout, v, time.Local); err == nil {
			return t
		}
	}
	return time.Time{}
}

func toState(spec query.Spec, r record) (State, error) {
	s := State{
		Spec:      spec,
		Response:  cleanText(r.Response),
		Message:   cleanText(r.Message),
		Timestamp: parseTimestamp(r.Timestamp),
	}

	var err error
	if s.PagesRetrieved, err = parseCount("nb_of_pages_already_retrieved", r.PagesRetrieved); err != nil {
		return State{}, err
	}
	if s.TotalPages, err = parseCount("totalPages", r.TotalPages); err != nil {
		return State{}, err
	}
	if s.TotalFlights, err = parseCount("totalFlights", r.TotalFlights); err != nil {
		return State{}, err
	}
	if s.Completion, err = parseCount("completion", r.Completion); err != nil {
		return State{}, err
	}
	if s.Completion > 100 {
		s.Completion = 100
	}
	return s, nil
}

func cleanText(v string) string {
	if query.IsMissing(v) {
		return ""
	}
	return v
}
