package importer

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/types"
)

func ctsDef(t *testing.T) *types.DataSetDefinition {
	t.Helper()
	defs := testDatasets()
	return &defs[0]
}

func TestRowReaderHappyPath(t *testing.T) {
	input := ctsRows(
		"UK-12/345/6789|I|12/345/6789|farm@example.com|01onetwo",
		"UK-98/765/4321|U|98/765/4321||",
	)
	rr, err := NewRowReader(strings.NewReader(input), ctsDef(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(rr.Header()) != 5 {
		t.Fatalf("header: %v", rr.Header())
	}

	row, line, err := rr.Next()
	if err != nil {
		t.Fatal(err)
	}
	if line != 2 {
		t.Fatalf("line = %d", line)
	}
	if row[types.FieldLidFullIdentifier] != "UK-12/345/6789" || row[types.FieldEmailAddress] != "farm@example.com" {
		t.Fatalf("row: %v", row)
	}

	row, _, err = rr.Next()
	if err != nil {
		t.Fatal(err)
	}
	if row[types.FieldEmailAddress] != "" {
		t.Fatal("empty trailing cells must parse as empty strings")
	}

	if _, _, err := rr.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestRowReaderSkipsBlankAndCRLF(t *testing.T) {
	input := strings.ReplaceAll(ctsRows(
		"UK-12/345/6789|I|12/345/6789||",
	), "\n", "\r\n") + "\r\n   \r\n"

	rr, err := NewRowReader(strings.NewReader(input), ctsDef(t))
	if err != nil {
		t.Fatal(err)
	}
	row, _, err := rr.Next()
	if err != nil {
		t.Fatal(err)
	}
	if row[types.FieldLidFullIdentifier] != "UK-12/345/6789" {
		t.Fatalf("CR must be stripped: %v", row)
	}
	if _, _, err := rr.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("blank lines must be skipped, got %v", err)
	}
}

func TestRowReaderColumnCountMismatch(t *testing.T) {
	input := ctsRows(
		"UK-12/345/6789|I|12/345/6789||",
		"short|row",
		"UK-98/765/4321|I|98/765/4321||",
	)
	rr, err := NewRowReader(strings.NewReader(input), ctsDef(t))
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := rr.Next(); err != nil {
		t.Fatal(err)
	}

	_, line, err := rr.Next()
	var rowErr *RowError
	if !errors.As(err, &rowErr) {
		t.Fatalf("expected RowError, got %v", err)
	}
	if line != 3 || rowErr.Line != 3 {
		t.Fatalf("line = %d, rowErr.Line = %d", line, rowErr.Line)
	}

	// Reading continues past the defective row.
	row, _, err := rr.Next()
	if err != nil {
		t.Fatal(err)
	}
	if row[types.FieldLidFullIdentifier] != "UK-98/765/4321" {
		t.Fatalf("row after defect: %v", row)
	}
}

func TestRowReaderHeaderValidation(t *testing.T) {
	def := ctsDef(t)

	cases := map[string]string{
		"empty file":          "",
		"blank only":          "\n  \n",
		"missing change type": "LID_FULL_IDENTIFIER|CPH|EMAIL_ADDRESS|PHONE_NUMBER\n",
		"missing primary key": "CHANGETYPE|CPH|EMAIL_ADDRESS|PHONE_NUMBER\n",
		"missing accumulator": "LID_FULL_IDENTIFIER|CHANGETYPE|CPH|EMAIL_ADDRESS\n",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewRowReader(strings.NewReader(input), def); err == nil {
				t.Fatal("expected header error")
			}
		})
	}

	// Extra columns beyond the required set are allowed.
	input := "LID_FULL_IDENTIFIER|CHANGETYPE|CPH|EMAIL_ADDRESS|PHONE_NUMBER|EXTRA\n"
	if _, err := NewRowReader(strings.NewReader(input), def); err != nil {
		t.Fatalf("extra columns must be tolerated: %v", err)
	}
}
