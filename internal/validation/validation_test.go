package validation

import (
	"errors"
	"strings"
	"testing"

	"github.com/hyperengineering/oppsync/internal/types"
)

func TestValidateUTF8(t *testing.T) {
	if err := ValidateUTF8("field", "Hello, 世界"); err != nil {
		t.Errorf("ValidateUTF8(valid) = %v, want nil", err)
	}

	err := ValidateUTF8("Description", string([]byte{0xff, 0xfe}))
	if err == nil {
		t.Fatal("ValidateUTF8(invalid) = nil, want error")
	}
	if err.Field != "Description" {
		t.Errorf("error.Field = %q, want %q", err.Field, "Description")
	}
}

func TestValidateNoNullBytes(t *testing.T) {
	if err := ValidateNoNullBytes("field", "clean"); err != nil {
		t.Errorf("ValidateNoNullBytes(clean) = %v, want nil", err)
	}
	if err := ValidateNoNullBytes("field", "hello\x00world"); err == nil {
		t.Error("ValidateNoNullBytes(with null) = nil, want error")
	}
}

func TestValidateMaxLength(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"within", strings.Repeat("a", 119), false},
		{"at limit", strings.Repeat("a", 120), false},
		{"exceeds", strings.Repeat("a", 121), true},
		{"multibyte at limit", strings.Repeat("👋", 120), false},
		{"multibyte exceeds", strings.Repeat("👋", 121), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMaxLength("Name", tt.value, 120)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMaxLength() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateULID(t *testing.T) {
	if err := ValidateULID("id", "01ARZ3NDEKTSV4RRFFQ69G5FAV"); err != nil {
		t.Errorf("ValidateULID(valid) = %v, want nil", err)
	}
	for _, bad := range []string{"", "01ARZ3NDEK", "01ARZ3NDEKTSV4RRFFQ69G5FAVX", "01ARZ3NDEKTSV4RRFFQ69G5FAU"} {
		if err := ValidateULID("id", bad); err == nil {
			t.Errorf("ValidateULID(%q) = nil, want error", bad)
		}
	}
}

func TestValidateRequired(t *testing.T) {
	if err := ValidateRequired("Name", "Deal"); err != nil {
		t.Errorf("ValidateRequired(non-empty) = %v", err)
	}
	for _, v := range []string{"", "   ", "\t\n"} {
		if err := ValidateRequired("Name", v); err == nil {
			t.Errorf("ValidateRequired(%q) = nil, want error", v)
		}
	}
}

func TestValidateEnum(t *testing.T) {
	allowed := []string{"poll", "push"}
	if err := ValidateEnum("trigger", "poll", allowed); err != nil {
		t.Errorf("ValidateEnum(poll) = %v", err)
	}
	if err := ValidateEnum("trigger", "Poll", allowed); err == nil {
		t.Error("ValidateEnum should be case-sensitive")
	}
}

func TestValidateNumeric(t *testing.T) {
	if err := ValidateNumeric("Amount", nil); err != nil {
		t.Errorf("nil should be accepted, got %v", err)
	}
	if err := ValidateNumeric("Amount", "12.5"); err != nil {
		t.Errorf("numeric string should be accepted, got %v", err)
	}
	if err := ValidateNumeric("Amount", "lots"); err == nil {
		t.Error("non-numeric string should be rejected")
	}
}

func TestValidateFieldName(t *testing.T) {
	for _, ok := range []string{"Name", "Custom_Field__c", "A1"} {
		if err := ValidateFieldName(ok); err != nil {
			t.Errorf("ValidateFieldName(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"", "1st", "Close Date", "x-y"} {
		if err := ValidateFieldName(bad); err == nil {
			t.Errorf("ValidateFieldName(%q) = nil, want error", bad)
		}
	}
}

func TestCollector(t *testing.T) {
	c := &Collector{}
	if c.HasErrors() {
		t.Fatal("HasErrors() = true for empty collector")
	}
	c.Add(nil)
	c.Add(&ValidationError{Field: "f1", Message: "m1"})
	c.Add(nil)
	c.Add(&ValidationError{Field: "f2", Message: "m2"})

	errs := c.Errors()
	if len(errs) != 2 {
		t.Fatalf("len(Errors()) = %d, want 2", len(errs))
	}
	if errs[0].Field != "f1" || errs[1].Field != "f2" {
		t.Errorf("errors out of order: %+v", errs)
	}
}

// --- Record validation ---

func validOpportunity() types.Record {
	return types.NewRecord(map[string]any{
		types.FieldName:        "sfdc2sfdc-opportunity-DemoCreate",
		types.FieldAmount:      10000,
		types.FieldStageName:   "NewStage",
		types.FieldCloseDate:   "2051-11-11",
		types.FieldProbability: "100",
	})
}

func TestValidateRecord_Valid(t *testing.T) {
	if errs := ValidateRecord(validOpportunity()); len(errs) != 0 {
		t.Errorf("ValidateRecord(valid) = %+v, want none", errs)
	}
}

func TestValidateRecord_NameRequired(t *testing.T) {
	r := validOpportunity()
	delete(r.Fields, types.FieldName)

	errs := ValidateRecord(r)
	if len(errs) != 1 || errs[0].Field != types.FieldName {
		t.Errorf("errs = %+v, want single Name error", errs)
	}
}

func TestValidateRecord_NameNotString(t *testing.T) {
	r := validOpportunity()
	r.Fields[types.FieldName] = 12

	errs := ValidateRecord(r)
	if len(errs) != 1 || errs[0].Message != "must be a string" {
		t.Errorf("errs = %+v, want 'must be a string'", errs)
	}
}

func TestValidateRecord_NameTooLong(t *testing.T) {
	r := validOpportunity()
	r.Fields[types.FieldName] = strings.Repeat("n", MaxNameLength+1)

	if errs := ValidateRecord(r); len(errs) != 1 {
		t.Errorf("errs = %+v, want 1", errs)
	}
}

func TestValidateRecord_BadNumbers(t *testing.T) {
	r := validOpportunity()
	r.Fields[types.FieldAmount] = "a lot"
	r.Fields[types.FieldProbability] = 150

	errs := ValidateRecord(r)
	if len(errs) != 2 {
		t.Fatalf("errs = %+v, want 2", errs)
	}
	fields := map[string]bool{}
	for _, e := range errs {
		fields[e.Field] = true
	}
	if !fields[types.FieldAmount] || !fields[types.FieldProbability] {
		t.Errorf("expected Amount and Probability errors, got %+v", errs)
	}
}

func TestValidateRecord_BadFieldName(t *testing.T) {
	r := validOpportunity()
	r.Fields["Close Date"] = "2040-07-13"

	if errs := ValidateRecord(r); len(errs) != 1 {
		t.Errorf("errs = %+v, want 1", errs)
	}
}

func TestCheckRecord_WrapsSentinel(t *testing.T) {
	r := validOpportunity()
	r.Fields[types.FieldName] = "  "

	err := CheckRecord(r)
	if !errors.Is(err, ErrInvalidRecord) {
		t.Fatalf("CheckRecord() = %v, want ErrInvalidRecord", err)
	}
	var recErr *RecordError
	if !errors.As(err, &recErr) || len(recErr.Errors) == 0 {
		t.Errorf("expected *RecordError with field errors, got %T", err)
	}
	if !strings.Contains(err.Error(), "Name is required") {
		t.Errorf("error message = %q", err.Error())
	}

	if err := CheckRecord(validOpportunity()); err != nil {
		t.Errorf("CheckRecord(valid) = %v", err)
	}
}
