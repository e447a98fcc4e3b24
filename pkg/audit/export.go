package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
)

// ExportFormat selects the serialization used by Export
type ExportFormat string

const (
	FormatJSON ExportFormat = "json"
	FormatCSV  ExportFormat = "csv"
)

// Export queries entries matching the filter and serializes them in the
// requested format. Intended for compliance exports; respects the filter's
// limit/offset for chunked extraction.
func (l *Logger) Export(ctx context.Context, filter Filter, format ExportFormat) ([]byte, error) {
	entries, err := l.Query(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}

	switch format {
	case FormatJSON:
		return exportJSON(entries)
	case FormatCSV:
		return exportCSV(entries)
	default:
		return nil, fmt.Errorf("unsupported export format: %q", format)
	}
}

// exportJSON exports audit entries as an indented JSON array
func exportJSON(entries []Entry) ([]byte, error) {
	return json.MarshalIndent(entries, "", "  ")
}

// exportCSV exports audit entries as CSV
func exportCSV(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{
		"ID",
		"Timestamp",
		"TenantID",
		"Action",
		"EntityType",
		"EntityID",
		"UserID",
		"RoleID",
		"OldValue",
		"NewValue",
		"ChangeReason",
		"ChangedBy",
		"IPAddress",
		"UserAgent",
	}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, entry := range entries {
		changedBy := ""
		if entry.ChangedBy != nil {
			changedBy = *entry.ChangedBy
		}
		row := []string{
			entry.ID,
			entry.Timestamp.Format("2006-01-02 15:04:05"),
			entry.TenantID,
			string(entry.Action),
			string(entry.EntityType),
			entry.EntityID,
			entry.UserID,
			entry.RoleID,
			string(entry.OldValue),
			string(entry.NewValue),
			entry.ChangeReason,
			changedBy,
			entry.IPAddress,
			entry.UserAgent,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}
