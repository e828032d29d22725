package handler

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"payroll-closing-backend/internal/models"
	"payroll-closing-backend/internal/normalize"
	service "payroll-closing-backend/internal/services/reconciliation"
)

// header aliases, compared after normalize.Text
var (
	identifierColumns = []string{"rut", "identifier", "identificador", "rut trabajador", "id empleado"}
	nameColumns       = []string{"nombre", "name", "display name", "nombre trabajador", "nombre completo"}
	conceptColumns    = []string{"concepto", "concept", "item"}
	valueColumns      = []string{"monto", "valor", "value", "amount"}
)

var errNoIdentifierColumn = errors.New("no identifier column in header")

// parseFeed reads a source export. Two layouts are accepted: long, with one
// row per employee and concept (identifier, name, concept, value), and wide,
// with one row per employee and one column per concept. progress is called
// with the number of data rows read so far.
func parseFeed(data []byte, progress func(int)) ([]service.RecordInput, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.Comma = sniffDelimiter(data)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	raw := make([]string, len(header))
	for i := range header {
		raw[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
		header[i] = normalize.Text(raw[i])
	}

	idCol := column(header, identifierColumns)
	if idCol < 0 {
		return nil, errNoIdentifierColumn
	}
	nameCol := column(header, nameColumns)
	conceptCol := column(header, conceptColumns)
	valueCol := column(header, valueColumns)
	long := conceptCol >= 0 && valueCol >= 0

	var out []service.RecordInput
	byID := map[string]int{} // raw identifier -> index in out, long layout only
	count := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", count+2, err)
		}
		if len(record) == 0 || strings.TrimSpace(strings.Join(record, "")) == "" {
			continue
		}
		count++
		if progress != nil && count%100 == 0 {
			progress(count)
		}

		id := cell(record, idCol)
		name := cell(record, nameCol)

		if !long {
			fields := models.FieldMap{}
			for i := range header {
				if i == idCol || i == nameCol {
					continue
				}
				fields[conceptName(raw[i], i)] = valueOf(cell(record, i))
			}
			out = append(out, service.RecordInput{Identifier: id, DisplayName: name, Fields: fields})
			continue
		}

		idx, seen := byID[id]
		if !seen {
			idx = len(out)
			byID[id] = idx
			out = append(out, service.RecordInput{Identifier: id, DisplayName: name, Fields: models.FieldMap{}})
		}
		concept := cell(record, conceptCol)
		if concept == "" {
			continue
		}
		out[idx].Fields[concept] = valueOf(cell(record, valueCol))
	}

	if progress != nil {
		progress(count)
	}
	return out, nil
}

// conceptName names a wide-layout column; unnamed columns get a positional name.
func conceptName(h string, i int) string {
	if h == "" {
		return fmt.Sprintf("columna %d", i+1)
	}
	return h
}

func sniffDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	best, bestCount := ',', bytes.Count(line, []byte{','})
	for _, d := range []rune{';', '\t'} {
		if n := bytes.Count(line, []byte(string(d))); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

func column(header []string, aliases []string) int {
	for i, h := range header {
		for _, a := range aliases {
			if h == a {
				return i
			}
		}
	}
	return -1
}

func cell(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func valueOf(raw string) models.Value {
	if raw == "" {
		return models.Empty()
	}
	if d, ok := models.ParseAmount(raw); ok {
		return models.Number(d)
	}
	return models.Text(raw)
}
