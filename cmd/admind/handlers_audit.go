package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"rolegate/pkg/audit"
	"rolegate/pkg/bus"
	"rolegate/pkg/httpx"
	"rolegate/pkg/models"
	"rolegate/pkg/stream"
)

func (s *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("source")), "durable") {
		if s.Durable == nil {
			httpx.Error(w, 503, "durable audit store not configured")
			return
		}
		entries, err := s.Durable.Recent(r.Context(), limit)
		if err != nil {
			httpx.Error(w, 500, err.Error())
			return
		}
		httpx.WriteJSON(w, 200, map[string]interface{}{
			"entries": entries,
			"total":   len(entries),
			"source":  "durable",
		})
		return
	}
	entries := s.Audit.Query()
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	httpx.WriteJSON(w, 200, map[string]interface{}{
		"entries": entries,
		"total":   s.Audit.Len(),
	})
}

func (s *Server) exportAudit(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = audit.FormatJSON
	}
	body, err := s.Audit.Export(format)
	if err != nil {
		httpx.Error(w, 400, err.Error())
		return
	}
	s.Metrics.IncAction("Audit Export")
	filename := fmt.Sprintf("audit-%s.%s", time.Now().UTC().Format("20060102-150405"), format)
	switch format {
	case audit.FormatCSV:
		w.Header().Set("Content-Type", "text/csv")
	default:
		w.Header().Set("Content-Type", "application/json")
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	_, _ = w.Write([]byte(body))
}

type auditMessageSource interface {
	ReadMessage(ctx context.Context) (bus.Message, error)
}

// auditMirrorLoop forwards audit entries published by peer instances onto the
// local event stream, so a panel connected here sees fleet-wide activity.
func (s *Server) auditMirrorLoop(ctx context.Context, src auditMessageSource) {
	for {
		msg, err := src.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("audit mirror: %v", err)
			return
		}
		var entry models.AuditLogEntry
		if err := json.Unmarshal(msg.Value, &entry); err != nil {
			log.Printf("audit mirror: bad payload: %v", err)
			continue
		}
		s.publish(stream.EventAuditAppended, entry)
	}
}
