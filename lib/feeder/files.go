package feeder

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/afero"
)

// ReadCSV reads a delimited file whose first row holds the column names.
// Every value is kept as a string.
func ReadCSV(fs afero.Fs, path string, separator rune) ([]Record, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("couldn't read feeder file: %w", err)
	}
	return ParseCSV(bytes.NewReader(data), separator)
}

// ParseCSV is ReadCSV over an already open reader.
func ParseCSV(r io.Reader, separator rune) ([]Record, error) {
	reader := csv.NewReader(r)
	if separator != 0 {
		reader.Comma = separator
	}
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("the csv feeder file is empty, a header row is required")
	}
	if err != nil {
		return nil, err
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if header[i] == "" {
			return nil, fmt.Errorf("column %d of the csv header has no name", i+1)
		}
	}

	var records []Record
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		rec := make(Record, len(header))
		for i, h := range header {
			rec[h] = row[i]
		}
		records = append(records, rec)
	}
	return records, nil
}

// ReadJSON reads a file holding a top-level array of flat objects. Numbers
// are kept as json.Number and normalized when merged into a session.
func ReadJSON(fs afero.Fs, path string) ([]Record, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("couldn't read feeder file: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw []interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("the json feeder file must hold an array of objects: %w", err)
	}
	records := make([]Record, 0, len(raw))
	for i, item := range raw {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("element %d of the json feeder file is not an object", i)
		}
		records = append(records, Record(obj))
	}
	return records, nil
}
