package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry collects in-process counters for the admin service: per-endpoint
// latency, administrative action totals, approval-session state totals and
// audit-trail volume.
type Registry struct {
	mu           sync.RWMutex
	endpoint     map[string]*EndpointStat
	action       map[string]int64
	sessionState map[string]int64
	gauges       map[string]float64
	auditEntries int64
}

type EndpointStat struct {
	Count          int64   `json:"count"`
	ErrorCount     int64   `json:"error_count"`
	TotalMillis    int64   `json:"total_millis"`
	MaxMillis      int64   `json:"max_millis"`
	AverageMillis  float64 `json:"average_millis"`
	LastStatusCode int     `json:"last_status_code"`
}

type Snapshot struct {
	GeneratedAt   string                  `json:"generated_at"`
	Endpoints     map[string]EndpointStat `json:"endpoints"`
	Actions       map[string]int64        `json:"actions"`
	SessionStates map[string]int64        `json:"session_states"`
	Gauges        map[string]float64      `json:"gauges"`
	AuditEntries  int64                   `json:"audit_entries_total"`
}

func NewRegistry() *Registry {
	return &Registry{
		endpoint:     map[string]*EndpointStat{},
		action:       map[string]int64{},
		sessionState: map[string]int64{},
		gauges:       map[string]float64{},
	}
}

func (r *Registry) Observe(path string, status int, d time.Duration) {
	millis := d.Milliseconds()
	r.mu.Lock()
	defer r.mu.Unlock()
	stat, ok := r.endpoint[path]
	if !ok {
		stat = &EndpointStat{}
		r.endpoint[path] = stat
	}
	stat.Count++
	if status >= 400 {
		stat.ErrorCount++
	}
	stat.TotalMillis += millis
	if millis > stat.MaxMillis {
		stat.MaxMillis = millis
	}
	stat.LastStatusCode = status
	stat.AverageMillis = float64(stat.TotalMillis) / float64(stat.Count)
}

// IncAction counts one administrative action by type.
func (r *Registry) IncAction(action string) {
	action = strings.TrimSpace(action)
	if action == "" {
		return
	}
	r.mu.Lock()
	r.action[action]++
	r.mu.Unlock()
}

// AddSessionState counts approval-session transitions into a state.
func (r *Registry) AddSessionState(state string, delta int64) {
	state = strings.TrimSpace(strings.ToUpper(state))
	if state == "" || delta <= 0 {
		return
	}
	r.mu.Lock()
	r.sessionState[state] += delta
	r.mu.Unlock()
}

func (r *Registry) IncSessionState(state string) {
	r.AddSessionState(state, 1)
}

func (r *Registry) IncAuditEntries() {
	r.mu.Lock()
	r.auditEntries++
	r.mu.Unlock()
}

func (r *Registry) SetGauge(name string, value float64) {
	if name == "" {
		return
	}
	r.mu.Lock()
	r.gauges[name] = value
	r.mu.Unlock()
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := Snapshot{
		GeneratedAt:   time.Now().UTC().Format(time.RFC3339),
		Endpoints:     make(map[string]EndpointStat, len(r.endpoint)),
		Actions:       make(map[string]int64, len(r.action)),
		SessionStates: make(map[string]int64, len(r.sessionState)),
		Gauges:        make(map[string]float64, len(r.gauges)),
		AuditEntries:  r.auditEntries,
	}
	for k, v := range r.endpoint {
		out.Endpoints[k] = *v
	}
	for k, v := range r.action {
		out.Actions[k] = v
	}
	for k, v := range r.sessionState {
		out.SessionStates[k] = v
	}
	for k, v := range r.gauges {
		out.Gauges[k] = v
	}
	return out
}

func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(snap)
	}
}

func (r *Registry) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		b := &strings.Builder{}
		b.WriteString("# HELP rolegate_endpoint_count total requests by endpoint\n")
		b.WriteString("# TYPE rolegate_endpoint_count counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "rolegate_endpoint_count{endpoint=%q} %d\n", ep, snap.Endpoints[ep].Count)
		}
		b.WriteString("# HELP rolegate_endpoint_error_count total endpoint errors\n")
		b.WriteString("# TYPE rolegate_endpoint_error_count counter\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "rolegate_endpoint_error_count{endpoint=%q} %d\n", ep, snap.Endpoints[ep].ErrorCount)
		}
		b.WriteString("# HELP rolegate_endpoint_avg_millis endpoint average latency in milliseconds\n")
		b.WriteString("# TYPE rolegate_endpoint_avg_millis gauge\n")
		for _, ep := range SortedKeys(snap.Endpoints) {
			fmt.Fprintf(b, "rolegate_endpoint_avg_millis{endpoint=%q} %.3f\n", ep, snap.Endpoints[ep].AverageMillis)
		}
		b.WriteString("# HELP rolegate_action_total administrative actions by type\n")
		b.WriteString("# TYPE rolegate_action_total counter\n")
		for _, action := range SortedKeys(snap.Actions) {
			fmt.Fprintf(b, "rolegate_action_total{action=%q} %d\n", action, snap.Actions[action])
		}
		b.WriteString("# HELP rolegate_session_total approval-session transitions by state\n")
		b.WriteString("# TYPE rolegate_session_total counter\n")
		for _, state := range SortedKeys(snap.SessionStates) {
			fmt.Fprintf(b, "rolegate_session_total{state=%q} %d\n", state, snap.SessionStates[state])
		}
		b.WriteString("# HELP rolegate_gauge operational gauge metrics\n")
		b.WriteString("# TYPE rolegate_gauge gauge\n")
		for _, name := range SortedKeys(snap.Gauges) {
			fmt.Fprintf(b, "rolegate_gauge{name=%q} %.3f\n", name, snap.Gauges[name])
		}
		b.WriteString("# HELP rolegate_audit_entries_total audit log entries appended\n")
		b.WriteString("# TYPE rolegate_audit_entries_total counter\n")
		fmt.Fprintf(b, "rolegate_audit_entries_total %d\n", snap.AuditEntries)
		_, _ = w.Write([]byte(b.String()))
	}
}

func SortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
