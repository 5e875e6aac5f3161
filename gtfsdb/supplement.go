package gtfsdb

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"
	"overlay.onebusaway.org/internal/logging"
)

// columnValues reads keyColumn and valueColumn from one file of a GTFS
// archive. Rows with an empty value are left out. A missing file or column
// yields an empty map, since both columns read here are optional in GTFS.
func columnValues(archive []byte, file, keyColumn, valueColumn string) (map[string]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFeed, err)
	}

	var entry *zip.File
	for _, f := range zr.File {
		// Some agencies nest the feed one directory deep.
		if path.Base(f.Name) == file {
			entry = f
			break
		}
	}
	values := make(map[string]string)
	if entry == nil {
		return values, nil
	}

	rc, err := entry.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrInvalidFeed, file, err)
	}
	defer logging.SafeCloseWithLogging(rc,
		slog.Default().With(slog.String("component", "gtfs_importer")), file)

	r := csv.NewReader(rc)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return values, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s header: %v", ErrInvalidFeed, file, err)
	}

	keyIdx, valueIdx := -1, -1
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		switch name {
		case keyColumn:
			keyIdx = i
		case valueColumn:
			valueIdx = i
		}
	}
	if keyIdx < 0 || valueIdx < 0 {
		return values, nil
	}

	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidFeed, file, err)
		}
		if keyIdx >= len(record) || valueIdx >= len(record) {
			continue
		}
		value := strings.TrimSpace(record[valueIdx])
		if value == "" {
			continue
		}
		values[strings.TrimSpace(record[keyIdx])] = value
	}
	return values, nil
}
