package importer

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/types"
)

// fieldSeparator is the column delimiter of decrypted drop files.
const fieldSeparator = "|"

// maxLineBytes bounds a single row. Rows are short in practice; the
// limit guards against a corrupt (wrongly decrypted) stream.
const maxLineBytes = 1 << 20

// RowError is a recoverable defect in a single data row. The reader
// keeps going after returning one.
type RowError struct {
	Line   int
	Detail string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Line, e.Detail)
}

// RowReader streams rows out of a decrypted pipe-delimited file.
// Header validation happens at construction; a malformed header is
// fatal for the whole file, a malformed row is not.
type RowReader struct {
	scanner *bufio.Scanner
	def     *types.DataSetDefinition
	header  []string
	line    int
}

// NewRowReader reads and validates the header line. The header must
// carry every primary key column, the change type column, and every
// accumulator column; anything else is a corrupt file.
func NewRowReader(r io.Reader, def *types.DataSetDefinition) (*RowReader, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	rr := &RowReader{scanner: sc, def: def}
	for sc.Scan() {
		rr.line++
		text := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		rr.header = strings.Split(text, fieldSeparator)
		break
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if rr.header == nil {
		return nil, fmt.Errorf("empty file, no header line")
	}

	present := make(map[string]bool, len(rr.header))
	for _, col := range rr.header {
		present[col] = true
	}
	required := append([]string{def.ChangeTypeColumn}, def.PrimaryKeyColumns...)
	required = append(required, def.AccumulatorColumns...)
	for _, col := range required {
		if !present[col] {
			return nil, fmt.Errorf("header missing column %q", col)
		}
	}
	return rr, nil
}

// Header returns the validated column names in file order.
func (rr *RowReader) Header() []string { return rr.header }

// Next returns the next data row as a column map, its 1-based line
// number, or an error. A *RowError means the row was skipped and
// reading may continue; io.EOF means the file is done.
func (rr *RowReader) Next() (map[string]string, int, error) {
	for rr.scanner.Scan() {
		rr.line++
		text := strings.TrimRight(rr.scanner.Text(), "\r")
		if strings.TrimSpace(text) == "" {
			continue
		}
		fields := strings.Split(text, fieldSeparator)
		if len(fields) != len(rr.header) {
			return nil, rr.line, &RowError{
				Line:   rr.line,
				Detail: fmt.Sprintf("expected %d columns, got %d", len(rr.header), len(fields)),
			}
		}
		row := make(map[string]string, len(fields))
		for i, col := range rr.header {
			row[col] = fields[i]
		}
		return row, rr.line, nil
	}
	if err := rr.scanner.Err(); err != nil {
		return nil, rr.line, fmt.Errorf("read row: %w", err)
	}
	return nil, rr.line, io.EOF
}
