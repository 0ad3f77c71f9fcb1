package notify

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"

	"portalsync/internal/auth"
	"portalsync/internal/components/assert"
	"portalsync/internal/components/telemetry"
	"portalsync/internal/monitor"
	"portalsync/internal/portal"
	"portalsync/internal/portal/parse"
	"portalsync/internal/timetable"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("portalsync/notify")

const (
	report_pipeline_check    = "pipeline.check"
	report_pipeline_dispatch = "pipeline.dispatch"
)

type Outcome int

const (
	Success Outcome = iota
	// Retry asks the scheduler to run again soon.
	Retry
	// Failure gives up until the next regular run.
	Failure
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Retry:
		return "retry"
	case Failure:
		return "failure"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Classify maps the error of a run to its outcome. Transient conditions
// (the network, server errors, an expired session) are retried, everything
// that would fail the same way again is not.
func Classify(err error) Outcome {
	if err == nil || errors.Is(err, ErrPermissionDenied) {
		return Success
	}
	if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrNoCredentials) {
		return Failure
	}
	if errors.Is(err, auth.ErrSessionExpired) ||
		errors.Is(err, parse.ErrLoginPage) ||
		errors.Is(err, portal.ErrLoginRedirect) {
		return Retry
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || portal.IsTimeout(err) {
		return Retry
	}

	var httpErr *portal.HttpError
	if errors.As(err, &httpErr) {
		if httpErr.Temporary() {
			return Retry
		}
		return Failure
	}
	var networkErr *portal.NetworkError
	if errors.As(err, &networkErr) {
		return Retry
	}
	return Failure
}

const DefaultSummaryThreshold = 3

type PipelineConfig struct {
	// SummaryThreshold is the number of changes above which a single
	// summary is sent instead of one notification per lecture, zero means
	// DefaultSummaryThreshold.
	SummaryThreshold int `json:"summary_threshold"`
}

// Checker finds timetable changes, implemented by monitor.Monitor.
type Checker interface {
	CheckForChanges(ctx context.Context) (monitor.Result, error)
}

type Pipeline struct {
	checker   Checker
	notifier  Notifier
	prefs     *Preferences
	tel       telemetry.API
	threshold int
}

func NewPipeline(checker Checker, notifier Notifier, prefs *Preferences, tel telemetry.API, config PipelineConfig) *Pipeline {
	assert.NotNil(checker)
	assert.NotNil(notifier)
	assert.NotNil(prefs)
	assert.NotNil(tel)

	threshold := DefaultSummaryThreshold
	if config.SummaryThreshold > 0 {
		threshold = config.SummaryThreshold
	}
	return &Pipeline{
		checker:   checker,
		notifier:  notifier,
		prefs:     prefs,
		tel:       telemetry.NewScopedAPI("pipeline", tel),
		threshold: threshold,
	}
}

// CheckAndNotify runs one monitoring cycle. It never retries by itself,
// the returned outcome tells the scheduler what to do. Changes found before
// a check failed are still announced since they are already cached.
func (p *Pipeline) CheckAndNotify(ctx context.Context) Outcome {
	ctx, span := tracer.Start(ctx, "CheckAndNotify")
	defer span.End()

	// another process may have changed the preferences since they were loaded
	enabled, err := p.prefs.StoredEnabled(ctx)
	if err != nil {
		enabled = p.prefs.Enabled().Get()
	}
	if !enabled {
		p.tel.ReportDebug("notifications disabled, skipping check")
		return Success
	}

	outcome := Success
	result, err := p.checker.CheckForChanges(ctx)
	if err != nil {
		outcome = Classify(err)
		span.RecordError(err)
		span.SetAttributes(attribute.String("outcome", outcome.String()))
		if outcome == Failure {
			p.tel.ReportBroken(report_pipeline_check, err)
		} else {
			p.tel.ReportWarning(report_pipeline_check, err, outcome.String())
		}
	}
	if !result.HadSnapshot {
		p.tel.ReportDebug("no previous snapshot, not notifying")
		return outcome
	}
	if result.Changes.Empty() {
		return outcome
	}
	if !p.notifier.HasPermission(ctx) {
		p.tel.ReportDebug("no notification permission", result.Changes.Count())
		return outcome
	}

	err = p.dispatch(ctx, result.Changes)
	if err != nil && !errors.Is(err, ErrPermissionDenied) {
		// the changes are already cached, running again would not find them
		p.tel.ReportBroken(report_pipeline_dispatch, err, result.Changes.Count())
		return Failure
	}
	span.SetAttributes(attribute.Int("changes", result.Changes.Count()))
	return outcome
}

func (p *Pipeline) dispatch(ctx context.Context, changes monitor.ChangeSet) error {
	count := changes.Count()
	if count > p.threshold {
		return p.notifier.ShowSummaryNotification(
			ctx,
			"Timetable changed",
			summaryMessage(changes),
			count,
		)
	}

	for _, e := range changes.Added {
		err := p.notifier.ShowNotification(ctx, "New lecture: "+e.SubjectShortName, describe(e), NotificationID(e))
		if err != nil {
			return err
		}
	}
	for _, e := range changes.Removed {
		err := p.notifier.ShowNotification(ctx, "Lecture cancelled: "+e.SubjectShortName, describe(e), NotificationID(e))
		if err != nil {
			return err
		}
	}
	for _, m := range changes.Modified {
		err := p.notifier.ShowNotification(ctx, "Lecture changed: "+m.New.SubjectShortName, describeModification(m), NotificationID(m.New))
		if err != nil {
			return err
		}
	}
	return nil
}

// NotificationID is stable for a lecture so a repeated notification
// replaces the previous one.
func NotificationID(e timetable.LectureEvent) int {
	h := fnv.New32a()
	h.Write([]byte(e.Identity()))
	return int(h.Sum32() & 0x7fffffff)
}

func describe(e timetable.LectureEvent) string {
	parts := []string{fmt.Sprintf("%s %s-%s", e.Start.Format("Mon 02.01."), e.Start.Format("15:04"), e.End.Format("15:04"))}
	if e.Location != "" {
		parts = append(parts, e.Location)
	}
	if e.IsTest {
		parts = append(parts, "exam")
	}
	return strings.Join(parts, ", ")
}

func describeModification(m monitor.Modification) string {
	var details []string
	if m.Old.Location != m.New.Location {
		details = append(details, fmt.Sprintf("room %s -> %s", orNone(m.Old.Location), orNone(m.New.Location)))
	}
	oldLecturers := strings.Join(m.Old.LecturerNames(), ", ")
	newLecturers := strings.Join(m.New.LecturerNames(), ", ")
	if oldLecturers != newLecturers {
		details = append(details, fmt.Sprintf("lecturers %s -> %s", orNone(oldLecturers), orNone(newLecturers)))
	}
	if m.Old.IsTest != m.New.IsTest {
		if m.New.IsTest {
			details = append(details, "now an exam")
		} else {
			details = append(details, "no longer an exam")
		}
	}
	return describe(m.New) + ": " + strings.Join(details, "; ")
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func summaryMessage(changes monitor.ChangeSet) string {
	var parts []string
	if n := len(changes.Added); n > 0 {
		parts = append(parts, fmt.Sprintf("%d new", n))
	}
	if n := len(changes.Removed); n > 0 {
		parts = append(parts, fmt.Sprintf("%d cancelled", n))
	}
	if n := len(changes.Modified); n > 0 {
		parts = append(parts, fmt.Sprintf("%d changed", n))
	}
	return fmt.Sprintf("%d lectures changed (%s)", changes.Count(), strings.Join(parts, ", "))
}
