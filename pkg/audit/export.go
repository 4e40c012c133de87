package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"rolegate/pkg/models"
)

// CSVHeader is fixed for compatibility with existing export consumers.
const CSVHeader = "timestamp,action,user,details,status,verified"

// Export formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// SignaturePayload is the canonical byte form an entry is signed over. The
// id and signature fields themselves are excluded from the binding.
func SignaturePayload(entry models.AuditLogEntry) []byte {
	binding := struct {
		Timestamp string `json:"timestamp"`
		Action    string `json:"action"`
		User      string `json:"user"`
		Details   string `json:"details"`
		Status    string `json:"status"`
	}{
		Timestamp: entry.Timestamp.UTC().Format(time.RFC3339Nano),
		Action:    entry.Action,
		User:      entry.Actor,
		Details:   entry.Details,
		Status:    entry.Status,
	}
	raw, _ := json.Marshal(binding)
	return raw
}

// Export serializes the full log. CSV fields are always quoted and embedded
// quotes are doubled per RFC 4180.
func (t *Trail) Export(format string) (string, error) {
	entries := t.Query()
	switch format {
	case FormatJSON:
		raw, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return "", err
		}
		return string(raw), nil
	case FormatCSV:
		b := &strings.Builder{}
		b.WriteString(CSVHeader)
		for _, entry := range entries {
			b.WriteString("\n")
			verified := "No"
			if entry.Verified != nil && *entry.Verified {
				verified = "Yes"
			}
			fields := []string{
				entry.Timestamp.UTC().Format(time.RFC3339),
				entry.Action,
				entry.Actor,
				entry.Details,
				entry.Status,
				verified,
			}
			for j, f := range fields {
				if j > 0 {
					b.WriteString(",")
				}
				b.WriteString(quoteCSV(f))
			}
		}
		return b.String(), nil
	default:
		return "", fmt.Errorf("unsupported export format %q", format)
	}
}

func quoteCSV(field string) string {
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}
