package telemetry

import (
	"fmt"
	"sync"
)

// Report is one call made against a RecordingAPI.
type Report struct {
	Kind   string
	Id     string
	Params []any
}

// RecordingAPI keeps every report in memory, tests use it to assert that
// failures are reported.
type RecordingAPI struct {
	mutex   sync.Mutex
	reports []Report
}

func NewRecordingAPI() *RecordingAPI {
	return &RecordingAPI{}
}

func (r *RecordingAPI) record(kind, id string, params []any) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.reports = append(r.reports, Report{Kind: kind, Id: id, Params: params})
}

func (r *RecordingAPI) ReportBroken(id string, params ...any) {
	r.record("broken", id, params)
}

func (r *RecordingAPI) ReportWarning(id string, params ...any) {
	r.record("warning", id, params)
}

func (r *RecordingAPI) ReportDebug(msg string, params ...any) {
	r.record("debug", msg, params)
}

func (r *RecordingAPI) ReportCount(id string, count int64) {
	r.record("count", id, []any{count})
}

// Reports returns the reports of the given kind ("broken", "warning",
// "debug", "count"), or all of them when kind is empty.
func (r *RecordingAPI) Reports(kind string) []Report {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	var out []Report
	for _, rep := range r.reports {
		if kind == "" || rep.Kind == kind {
			out = append(out, rep)
		}
	}
	return out
}

func (r *RecordingAPI) String() string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return fmt.Sprintf("%+v", r.reports)
}
