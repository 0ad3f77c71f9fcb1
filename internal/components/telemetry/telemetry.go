package telemetry

import (
	"fmt"
)

// API is where every portalsync component sends its logs and counters.
// Tests swap in a RecordingAPI to assert on what was reported.
type API interface {
	// ReportBroken reports a failure that needs attention, like a timetable
	// page that no longer parses.
	//
	// `id` names the operation, the error and its context go into params.
	// ex. a failed week download is reported by the portal client as
	// `client.get` with the error and the redacted url, a failed cache write
	// by the timetable service as `timetable.replace` with the week start.
	//
	// Ids are lowercase `<component>.<operation>`, multi word operations use
	// dashes (`client.post-form`). The package is added by ScopedAPI, so the
	// portal client's `client.get` ends up as `portal: client.get`.
	ReportBroken(id string, params ...any)

	// ReportWarning reports a problem the next attempt may not have, like a
	// failed login while renewing an expired session (`service.reauth`).
	ReportWarning(id string, params ...any)

	// ReportDebug reports progress only shown with --verbose.
	ReportDebug(msg string, params ...any)

	// ReportCount reports a gauge, ex. `timetable.lectures` after a week was
	// stored. Values are points in time and must not be summed.
	ReportCount(id string, count int64)
}

// ScopedAPI prefixes every id with the namespace of a package ("portal",
// "timetable", "notify").
type ScopedAPI struct {
	namespace string
	inner     API
}

// NewScopedAPI creates a ScopedAPI out of a given namespace and another api.
func NewScopedAPI(namespace string, inner API) ScopedAPI {
	return ScopedAPI{namespace: namespace, inner: inner}
}

func (s ScopedAPI) ReportBroken(id string, params ...any) {
	s.inner.ReportBroken(fmt.Sprintf("%s: %s", s.namespace, id), params...)
}

func (s ScopedAPI) ReportWarning(id string, params ...any) {
	s.inner.ReportWarning(fmt.Sprintf("%s: %s", s.namespace, id), params...)
}

func (s ScopedAPI) ReportDebug(msg string, params ...any) {
	s.inner.ReportDebug(fmt.Sprintf("%s: %s", s.namespace, msg), params...)
}

func (s ScopedAPI) ReportCount(id string, count int64) {
	s.inner.ReportCount(fmt.Sprintf("%s: %s", s.namespace, id), count)
}

// Redacted hides a secret while still telling whether one was present.
func Redacted(secret string) string {
	if secret == "" {
		return "<empty>"
	}
	return fmt.Sprintf("<redacted:%d>", len(secret))
}
