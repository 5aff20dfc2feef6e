package query

import (
	"errors"
	"testing"
)

func TestSignature_FieldOrder(t *testing.T) {
	spec := NewSpec(map[string]string{
		FieldEndRange:    "2025-07-23T23:59:59Z",
		FieldOrigin:      "CDG",
		FieldStartRange:  "2025-07-21T09:00:00Z",
		FieldCarrierCode: "AF,KL",
	})

	want := "carrierCode=AF,KL&origin=CDG&startRange=2025-07-21T09:00:00Z&endRange=2025-07-23T23:59:59Z"
	if got := spec.Signature(); got != want {
		t.Errorf("Signature() = %q, want %q", got, want)
	}
}

func TestSignature_IgnoresEmptyFields(t *testing.T) {
	tests := []struct {
		name string
		a, b map[string]string
	}{
		{
			name: "present but empty",
			a:    map[string]string{FieldOrigin: "AMS", FieldDestination: ""},
			b:    map[string]string{FieldOrigin: "AMS"},
		},
		{
			name: "nan sentinel",
			a:    map[string]string{FieldOrigin: "AMS", FieldFlightNumber: "[nan]"},
			b:    map[string]string{FieldOrigin: "AMS", FieldServiceType: "nan"},
		},
		{
			name: "surrounding whitespace",
			a:    map[string]string{FieldOrigin: " AMS "},
			b:    map[string]string{FieldOrigin: "AMS"},
		},
		{
			name: "bookkeeping columns",
			a:    map[string]string{FieldOrigin: "AMS", "completion": "100"},
			b:    map[string]string{FieldOrigin: "AMS"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sa, sb := NewSpec(tt.a).Signature(), NewSpec(tt.b).Signature()
			if sa != sb {
				t.Errorf("signatures differ: %q vs %q", sa, sb)
			}
		})
	}
}

func TestFamily_DropsDates(t *testing.T) {
	a := NewSpec(map[string]string{FieldOrigin: "CDG", FieldStartRange: "2025-01-01", FieldEndRange: "2025-01-02"})
	b := NewSpec(map[string]string{FieldOrigin: "CDG", FieldStartRange: "2025-02-01", FieldEndRange: "2025-02-02"})

	if a.Family() != b.Family() {
		t.Errorf("Family() differs: %q vs %q", a.Family(), b.Family())
	}
	if a.Family() != "origin=CDG" {
		t.Errorf("Family() = %q, want origin=CDG", a.Family())
	}
	if a.Signature() == b.Signature() {
		t.Error("signatures of different windows should differ")
	}
}

func TestWith_DoesNotMutate(t *testing.T) {
	orig := NewSpec(map[string]string{FieldOrigin: "CDG", FieldEndRange: "2025-01-01"})
	next := orig.With(FieldEndRange, "2025-01-02")

	if orig.EndRange() != "2025-01-01" {
		t.Errorf("original EndRange = %q, want 2025-01-01", orig.EndRange())
	}
	if next.EndRange() != "2025-01-02" {
		t.Errorf("next EndRange = %q, want 2025-01-02", next.EndRange())
	}
	if got := next.With(FieldOrigin, "").Get(FieldOrigin); got != "" {
		t.Errorf("With(empty) kept value %q", got)
	}
}

func TestCheckDateRange(t *testing.T) {
	tests := []struct {
		name       string
		start, end string
		wantErr    bool
	}{
		{name: "ordered dates", start: "2025-01-01", end: "2025-01-02"},
		{name: "equal bounds", start: "2025-01-01T00:00:00Z", end: "2025-01-01T00:00:00Z"},
		{name: "mixed layouts", start: "2025-01-01", end: "2025-01-01T23:59:59Z"},
		{name: "inverted", start: "2025-01-02", end: "2025-01-01", wantErr: true},
		{name: "unparseable", start: "yesterday", end: "2025-01-01", wantErr: true},
		{name: "only end", end: "2025-01-01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := NewSpec(map[string]string{FieldStartRange: tt.start, FieldEndRange: tt.end})
			err := spec.CheckDateRange()
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckDateRange() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidDateRange) {
				t.Errorf("error %v is not ErrInvalidDateRange", err)
			}
		})
	}
}

func TestFormatRangeTime(t *testing.T) {
	ts, err := ParseRangeTime("2025-07-23T23:59:59Z")
	if err != nil {
		t.Fatalf("ParseRangeTime() error = %v", err)
	}
	if got := FormatRangeTime(ts); got != "2025-07-23T23:59:59Z" {
		t.Errorf("FormatRangeTime() = %q", got)
	}
}
