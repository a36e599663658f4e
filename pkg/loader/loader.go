package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/OFFIS-RIT/medgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/medgraph/backend/pkg/loader/csv"
)

// ErrInvalidBatch marks a record batch that can not be decoded. Retrying
// such a batch never helps.
var ErrInvalidBatch = errors.New("invalid record batch")

type BatchFormat string

const (
	BatchFormatJSON   BatchFormat = "json"
	BatchFormatNDJSON BatchFormat = "ndjson"
	BatchFormatCSV    BatchFormat = "csv"
)

// RecordFileLoader fetches the raw content of a record batch file, for
// example from the local filesystem or an S3 bucket.
type RecordFileLoader interface {
	GetFile(ctx context.Context, filePath string) ([]byte, error)
}

// DetectFormat picks the batch format from the file extension.
func DetectFormat(filePath string) (BatchFormat, error) {
	switch strings.ToLower(path.Ext(filePath)) {
	case ".json":
		return BatchFormatJSON, nil
	case ".ndjson", ".jsonl":
		return BatchFormatNDJSON, nil
	case ".csv":
		return BatchFormatCSV, nil
	}
	return "", fmt.Errorf("%w: unsupported file type %q", ErrInvalidBatch, filePath)
}

// LoadRecords fetches filePath through l and decodes the records in it.
func LoadRecords(ctx context.Context, l RecordFileLoader, filePath string) ([]common.Record, error) {
	format, err := DetectFormat(filePath)
	if err != nil {
		return nil, err
	}

	content, err := l.GetFile(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", filePath, err)
	}

	recs, err := ParseRecords(format, content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}
	return recs, nil
}

// ParseRecords decodes content in the given format.
func ParseRecords(format BatchFormat, content []byte) ([]common.Record, error) {
	switch format {
	case BatchFormatJSON, BatchFormatNDJSON:
		return parseJSON(content)
	case BatchFormatCSV:
		recs, err := csv.ParseRecords(content)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidBatch, err)
		}
		return recs, nil
	}
	return nil, fmt.Errorf("%w: unknown format %q", ErrInvalidBatch, format)
}

// parseJSON accepts a JSON array of records as well as a stream of
// records, one object after the other, as written in NDJSON files.
func parseJSON(content []byte) ([]common.Record, error) {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidBatch)
	}

	if trimmed[0] == '[' {
		var recs []common.Record
		if err := json.Unmarshal(trimmed, &recs); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidBatch, err)
		}
		return recs, nil
	}

	var recs []common.Record
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	for {
		var rec common.Record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %w", ErrInvalidBatch, len(recs)+1, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
