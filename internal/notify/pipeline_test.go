package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"testing"
	"time"

	"portalsync/internal/auth"
	"portalsync/internal/components/keystore"
	"portalsync/internal/components/telemetry"
	"portalsync/internal/monitor"
	"portalsync/internal/portal"
	"portalsync/internal/portal/parse"
	"portalsync/internal/timetable"

	"github.com/stretchr/testify/require"
)

type shown struct {
	title   string
	message string
	id      int
	count   int
	summary bool
}

type fakeNotifier struct {
	denied bool
	err    error
	shown  []shown
}

func (n *fakeNotifier) ShowNotification(ctx context.Context, title, message string, id int) error {
	if n.err != nil {
		return n.err
	}
	n.shown = append(n.shown, shown{title: title, message: message, id: id})
	return nil
}

func (n *fakeNotifier) ShowSummaryNotification(ctx context.Context, title, message string, count int) error {
	if n.err != nil {
		return n.err
	}
	n.shown = append(n.shown, shown{title: title, message: message, count: count, summary: true})
	return nil
}

func (n *fakeNotifier) HasPermission(ctx context.Context) bool {
	return !n.denied
}

func (n *fakeNotifier) RequestPermission(ctx context.Context) error {
	n.denied = false
	return nil
}

type fakeChecker struct {
	result monitor.Result
	err    error
	calls  int
}

func (c *fakeChecker) CheckForChanges(ctx context.Context) (monitor.Result, error) {
	c.calls++
	return c.result, c.err
}

var base = time.Date(2025, time.October, 13, 8, 15, 0, 0, time.UTC)

func lecture(short string, hours int) timetable.LectureEvent {
	start := base.Add(time.Duration(hours) * time.Hour)
	return timetable.LectureEvent{
		SubjectShortName: short,
		Start:            start,
		End:              start.Add(90 * time.Minute),
		Location:         "A 1.01",
	}
}

func added(n int) monitor.ChangeSet {
	var changes monitor.ChangeSet
	for i := 0; i < n; i++ {
		changes.Added = append(changes.Added, lecture(fmt.Sprintf("L%d", i), i))
	}
	return changes
}

func setup(t *testing.T, checker Checker, notifier Notifier) (*Pipeline, *Preferences) {
	tel := telemetry.NewRecordingAPI()
	prefs, err := LoadPreferences(context.Background(), keystore.NewMemory(), tel)
	require.NoError(t, err)
	return NewPipeline(checker, notifier, prefs, tel, PipelineConfig{}), prefs
}

func TestPerLectureNotifications(t *testing.T) {
	moved := lecture("MA1", 0)
	moved.Location = "B 2.13"
	changes := monitor.ChangeSet{
		Added:    []timetable.LectureEvent{lecture("PRG", 2)},
		Removed:  []timetable.LectureEvent{lecture("TI1", 4)},
		Modified: []monitor.Modification{{Old: lecture("MA1", 0), New: moved}},
	}
	checker := &fakeChecker{result: monitor.Result{Changes: changes, HadSnapshot: true}}
	notifier := &fakeNotifier{}
	pipeline, _ := setup(t, checker, notifier)

	require.Equal(t, Success, pipeline.CheckAndNotify(context.Background()))
	require.Len(t, notifier.shown, 3)
	require.Equal(t, "New lecture: PRG", notifier.shown[0].title)
	require.Equal(t, "Lecture cancelled: TI1", notifier.shown[1].title)
	require.Equal(t, "Lecture changed: MA1", notifier.shown[2].title)
	require.Contains(t, notifier.shown[2].message, "room A 1.01 -> B 2.13")
	require.Equal(t, NotificationID(moved), notifier.shown[2].id)
	require.Equal(t, NotificationID(lecture("MA1", 0)), notifier.shown[2].id)
}

func TestSummaryAboveThreshold(t *testing.T) {
	checker := &fakeChecker{result: monitor.Result{Changes: added(4), HadSnapshot: true}}
	notifier := &fakeNotifier{}
	pipeline, _ := setup(t, checker, notifier)

	require.Equal(t, Success, pipeline.CheckAndNotify(context.Background()))
	require.Len(t, notifier.shown, 1)
	require.True(t, notifier.shown[0].summary)
	require.Equal(t, 4, notifier.shown[0].count)
	require.Equal(t, "4 lectures changed (4 new)", notifier.shown[0].message)
}

func TestNoSnapshotNoNotification(t *testing.T) {
	checker := &fakeChecker{result: monitor.Result{Changes: added(25), HadSnapshot: false}}
	notifier := &fakeNotifier{}
	pipeline, _ := setup(t, checker, notifier)

	require.Equal(t, Success, pipeline.CheckAndNotify(context.Background()))
	require.Empty(t, notifier.shown)
}

func TestPreferencesGate(t *testing.T) {
	ctx := context.Background()
	checker := &fakeChecker{result: monitor.Result{Changes: added(1), HadSnapshot: true}}
	notifier := &fakeNotifier{}
	pipeline, prefs := setup(t, checker, notifier)

	require.NoError(t, prefs.SetNotificationsEnabled(ctx, false))
	require.Equal(t, Success, pipeline.CheckAndNotify(ctx))
	require.Equal(t, 0, checker.calls)

	require.NoError(t, prefs.SetNotificationsEnabled(ctx, true))
	require.NoError(t, prefs.SetLectureAlertsEnabled(ctx, false))
	require.Equal(t, Success, pipeline.CheckAndNotify(ctx))
	require.Equal(t, 0, checker.calls)

	require.NoError(t, prefs.SetLectureAlertsEnabled(ctx, true))
	require.Equal(t, Success, pipeline.CheckAndNotify(ctx))
	require.Equal(t, 1, checker.calls)
	require.Len(t, notifier.shown, 1)
}

func TestPermissionMissing(t *testing.T) {
	checker := &fakeChecker{result: monitor.Result{Changes: added(2), HadSnapshot: true}}
	pipeline, _ := setup(t, checker, &fakeNotifier{denied: true})
	require.Equal(t, Success, pipeline.CheckAndNotify(context.Background()))

	pipeline, _ = setup(t, checker, &fakeNotifier{err: ErrPermissionDenied})
	require.Equal(t, Success, pipeline.CheckAndNotify(context.Background()))

	pipeline, _ = setup(t, checker, &fakeNotifier{err: errors.New("smtp down")})
	require.Equal(t, Failure, pipeline.CheckAndNotify(context.Background()))
}

func TestCheckErrors(t *testing.T) {
	checker := &fakeChecker{err: &portal.NetworkError{Url: "http://portal", Err: errors.New("connection refused")}}
	notifier := &fakeNotifier{}
	pipeline, _ := setup(t, checker, notifier)
	require.Equal(t, Retry, pipeline.CheckAndNotify(context.Background()))

	checker.err = fmt.Errorf("fetch: %w", parse.ErrUnrecognizedPage)
	require.Equal(t, Failure, pipeline.CheckAndNotify(context.Background()))
	require.Empty(t, notifier.shown)
}

type timeoutError struct{}

func (timeoutError) Error() string { return "i/o timeout" }
func (timeoutError) Timeout() bool { return true }

func TestClassify(t *testing.T) {
	cases := []struct {
		err      error
		expected Outcome
	}{
		{nil, Success},
		{ErrPermissionDenied, Success},
		{auth.ErrInvalidCredentials, Failure},
		{auth.ErrNoCredentials, Failure},
		{auth.ErrSessionExpired, Retry},
		{parse.ErrLoginPage, Retry},
		{fmt.Errorf("week: %w", portal.ErrLoginRedirect), Retry},
		{parse.ErrUnrecognizedPage, Failure},
		{parse.ErrTokenNotFound, Failure},
		{&portal.HttpError{StatusCode: http.StatusServiceUnavailable}, Retry},
		{&portal.HttpError{StatusCode: http.StatusTooManyRequests}, Retry},
		{&portal.HttpError{StatusCode: http.StatusNotFound}, Failure},
		{&portal.NetworkError{Err: errors.New("connection reset")}, Retry},
		{&portal.NetworkError{Err: &url.Error{Op: "Get", URL: "http://portal", Err: timeoutError{}}}, Retry},
		{context.DeadlineExceeded, Retry},
		{errors.New("disk full"), Failure},
	}
	for _, c := range cases {
		require.Equal(t, c.expected, Classify(c.err), "%v", c.err)
	}
}

func TestPreferencesPersist(t *testing.T) {
	ctx := context.Background()
	store := keystore.NewMemory()
	tel := telemetry.NewRecordingAPI()

	prefs, err := LoadPreferences(ctx, store, tel)
	require.NoError(t, err)
	require.True(t, prefs.Enabled().Get())

	var seen []bool
	unsubscribe := prefs.Enabled().Subscribe(func(enabled bool) {
		seen = append(seen, enabled)
	})
	defer unsubscribe()

	require.NoError(t, prefs.SetNotificationsEnabled(ctx, false))
	require.False(t, prefs.Enabled().Get())
	require.Equal(t, []bool{true, false}, seen)

	reloaded, err := LoadPreferences(ctx, store, tel)
	require.NoError(t, err)
	require.False(t, reloaded.Notifications.Get())
	require.True(t, reloaded.LectureAlerts.Get())
	require.False(t, reloaded.Enabled().Get())
}

func TestLogNotifier(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewTextHandler(&buf, nil)), false)

	require.False(t, n.HasPermission(ctx))
	require.ErrorIs(t, n.ShowNotification(ctx, "title", "message", 1), ErrPermissionDenied)
	require.NoError(t, n.RequestPermission(ctx))
	require.NoError(t, n.ShowNotification(ctx, "New lecture: MA1", "Mon 13.10.", 42))
	require.NoError(t, n.ShowSummaryNotification(ctx, "Timetable changed", "4 lectures changed", 4))

	require.Contains(t, buf.String(), `title="New lecture: MA1"`)
	require.Contains(t, buf.String(), "id=42")
	require.Contains(t, buf.String(), "count=4")
}

func TestChangesBeforeFailureAreDispatched(t *testing.T) {
	moved := lecture("MA1", 0)
	moved.Location = "A 1.02"
	checker := &fakeChecker{
		result: monitor.Result{
			Changes:     monitor.ChangeSet{Modified: []monitor.Modification{{Old: lecture("MA1", 0), New: moved}}},
			HadSnapshot: true,
		},
		err: fmt.Errorf("week 1: %w", &portal.NetworkError{Url: "http://portal", Err: errors.New("connection reset")}),
	}
	notifier := &fakeNotifier{}
	pipeline, _ := setup(t, checker, notifier)

	require.Equal(t, Retry, pipeline.CheckAndNotify(context.Background()))
	require.Len(t, notifier.shown, 1)
	require.Equal(t, "Lecture changed: MA1", notifier.shown[0].title)
}

func TestPreferencesChangedByAnotherProcess(t *testing.T) {
	ctx := context.Background()
	store := keystore.NewMemory()
	tel := telemetry.NewRecordingAPI()

	watcher, err := LoadPreferences(ctx, store, tel)
	require.NoError(t, err)
	cli, err := LoadPreferences(ctx, store, tel)
	require.NoError(t, err)

	checker := &fakeChecker{result: monitor.Result{Changes: added(1), HadSnapshot: true}}
	notifier := &fakeNotifier{}
	pipeline := NewPipeline(checker, notifier, watcher, tel, PipelineConfig{})

	var seen []bool
	unsubscribe := watcher.Enabled().Subscribe(func(enabled bool) {
		seen = append(seen, enabled)
	})
	defer unsubscribe()

	require.NoError(t, cli.SetNotificationsEnabled(ctx, false))
	require.Equal(t, Success, pipeline.CheckAndNotify(ctx))
	require.Equal(t, 0, checker.calls)
	require.Empty(t, notifier.shown)

	require.NoError(t, watcher.Reload(ctx))
	require.False(t, watcher.Enabled().Get())
	require.Equal(t, []bool{true, false}, seen)

	require.NoError(t, cli.SetNotificationsEnabled(ctx, true))
	require.Equal(t, Success, pipeline.CheckAndNotify(ctx))
	require.Equal(t, 1, checker.calls)
}

func TestPreferencesWatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := keystore.NewMemory()
	tel := telemetry.NewRecordingAPI()

	watcher, err := LoadPreferences(ctx, store, tel)
	require.NoError(t, err)
	cli, err := LoadPreferences(ctx, store, tel)
	require.NoError(t, err)

	watcher.Watch(ctx, 10*time.Millisecond)
	require.NoError(t, cli.SetLectureAlertsEnabled(ctx, false))
	require.Eventually(t, func() bool {
		return !watcher.Enabled().Get()
	}, time.Second, 10*time.Millisecond)
	require.True(t, watcher.Notifications.Get())
}
