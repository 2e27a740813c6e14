package httpapi

import (
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/parlapi/internal/store"
	"github.com/roach88/parlapi/internal/table"
)

// Format is a response serialization.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXML  Format = "xml"
)

// FormatKey is the query parameter selecting the response format.
const FormatKey = "_format"

// ParseFormat parses a format name; empty is JSON.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	case FormatXML:
		return FormatXML, nil
	default:
		return "", &FormatError{Format: s}
	}
}

// FormatError reports an unknown output format.
type FormatError struct {
	Format string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("unknown format %q: must be one of json, csv, xml", e.Format)
}

// ContentType returns the media type of f.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatXML:
		return "application/xml; charset=utf-8"
	default:
		return "application/json; charset=utf-8"
	}
}

// encoder writes rows and write results in one format.
type encoder struct {
	format    Format
	nullToken string
}

// Rows writes a read result. columns fixes the column order of CSV and XML.
func (e encoder) Rows(w io.Writer, columns []string, rows []store.Row) error {
	switch e.format {
	case FormatCSV:
		return e.csvRows(w, columns, rows)
	case FormatXML:
		return e.xmlRows(w, columns, rows)
	default:
		return writeJSON(w, rows)
	}
}

// Result writes a write result.
func (e encoder) Result(w io.Writer, res table.Result) error {
	switch e.format {
	case FormatCSV:
		return e.csvResult(w, res)
	case FormatXML:
		return e.xmlResult(w, res)
	default:
		return writeJSON(w, res)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// text renders a scalar for CSV and XML; ok is false for NULL.
func text(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case []byte:
		return string(x), true
	case time.Time:
		return x.UTC().Format(time.RFC3339), true
	case bool:
		return strconv.FormatBool(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	default:
		return fmt.Sprint(x), true
	}
}

func (e encoder) csvRows(w io.Writer, columns []string, rows []store.Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return err
	}
	record := make([]string, len(columns))
	for _, row := range rows {
		for i, col := range columns {
			s, ok := text(row[col])
			if !ok {
				s = e.nullToken
			}
			record[i] = s
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (e encoder) csvResult(w io.Writer, res table.Result) error {
	if len(res.Keys) == 0 {
		return e.csvRows(w, []string{"count"}, []store.Row{{"count": res.Count}})
	}
	rows, columns := keyRows(res.Keys)
	return e.csvRows(w, columns, rows)
}

// keyRows turns write keys into rows: composite keys keep their columns,
// scalar keys become a "key" column.
func keyRows(keys []any) ([]store.Row, []string) {
	rows := make([]store.Row, len(keys))
	seen := map[string]bool{}
	var columns []string
	for i, k := range keys {
		row, ok := k.(store.Row)
		if !ok {
			row = store.Row{"key": k}
		}
		rows[i] = row
		for col := range row {
			if !seen[col] {
				seen[col] = true
				columns = append(columns, col)
			}
		}
	}
	sort.Strings(columns)
	return rows, columns
}

type xmlColumn struct {
	Name  string `xml:"name,attr"`
	Null  bool   `xml:"null,attr,omitempty"`
	Value string `xml:",chardata"`
}

type xmlRow struct {
	Columns []xmlColumn `xml:"column"`
}

type xmlRows struct {
	XMLName xml.Name `xml:"rows"`
	Rows    []xmlRow `xml:"row"`
}

type xmlResult struct {
	XMLName xml.Name `xml:"result"`
	Count   int64    `xml:"count,attr"`
	Keys    []xmlRow `xml:"key"`
}

func xmlRowOf(columns []string, row store.Row) xmlRow {
	r := xmlRow{Columns: make([]xmlColumn, len(columns))}
	for i, col := range columns {
		s, ok := text(row[col])
		r.Columns[i] = xmlColumn{Name: col, Value: s, Null: !ok}
	}
	return r
}

func (e encoder) xmlRows(w io.Writer, columns []string, rows []store.Row) error {
	doc := xmlRows{Rows: make([]xmlRow, len(rows))}
	for i, row := range rows {
		doc.Rows[i] = xmlRowOf(columns, row)
	}
	return writeXML(w, doc)
}

func (e encoder) xmlResult(w io.Writer, res table.Result) error {
	doc := xmlResult{Count: res.Count}
	if len(res.Keys) > 0 {
		rows, columns := keyRows(res.Keys)
		for _, row := range rows {
			doc.Keys = append(doc.Keys, xmlRowOf(columns, row))
		}
	}
	return writeXML(w, doc)
}

func writeXML(w io.Writer, doc any) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// columnsOf returns the column order for rows: the declared order when
// known, then any other keys sorted.
func columnsOf(declared []string, rows []store.Row) []string {
	seen := make(map[string]bool, len(declared))
	var columns []string
	for _, col := range declared {
		seen[col] = true
		columns = append(columns, col)
	}
	var extra []string
	for _, row := range rows {
		for col := range row {
			if !seen[col] {
				seen[col] = true
				extra = append(extra, col)
			}
		}
	}
	sort.Strings(extra)
	return append(columns, extra...)
}
