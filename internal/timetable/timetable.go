package timetable

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"portalsync/internal/auth"
	"portalsync/internal/components/assert"
	"portalsync/internal/components/chrono"
	"portalsync/internal/components/db"
	"portalsync/internal/components/telemetry"
	"portalsync/internal/portal"
	"portalsync/internal/portal/parse"
	"portalsync/internal/session"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("portalsync/timetable")

const (
	report_db_query     = "db.query"
	report_week_fetch   = "timetable.fetch"
	report_week_parse   = "timetable.parse"
	report_week_replace = "timetable.replace"
	report_week_count   = "timetable.lectures"
)

const DefaultFreshness = 15 * time.Minute

type Config struct {
	// FreshnessMinutes is how long a synced week is served from the cache,
	// zero means DefaultFreshness.
	FreshnessMinutes int `json:"freshness_minutes"`
}

type Lecturer struct {
	ID   int64
	Name string
}

type LectureEvent struct {
	ID               string
	SubjectShortName string
	SubjectFullName  string
	Start            time.Time
	End              time.Time
	Location         string
	IsTest           bool
	Lecturers        []Lecturer
	FetchedAt        time.Time
}

// Identity is what makes two events the same lecture, the portal assigns
// no ids of its own so a lecture moved in time is a different lecture.
func (e LectureEvent) Identity() string {
	return EventID(e.SubjectShortName, e.Start, e.End)
}

// LecturerNames returns the names of the lecturers in portal order.
func (e LectureEvent) LecturerNames() []string {
	names := make([]string, len(e.Lecturers))
	for i, l := range e.Lecturers {
		names[i] = l.Name
	}
	return names
}

// EventID derives the stable id of a lecture from its subject and times.
func EventID(shortName string, start, end time.Time) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		strings.TrimSpace(shortName),
		strconv.FormatInt(start.Unix(), 10),
		strconv.FormatInt(end.Unix(), 10),
	}, "\x00")))
	return hex.EncodeToString(sum[:12])
}

// NormalizeLecturer folds case and whitespace so the same person listed
// slightly differently is stored once.
func NormalizeLecturer(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// SyncKey is the sync metadata key of the week starting at `weekStart`.
func SyncKey(weekStart time.Time) string {
	return "timetable:" + weekStart.Format("2006-01-02")
}

type Service struct {
	auth   *auth.Service
	client *portal.Client
	db     *db.Queries
	makeTx db.MakeTx
	time   chrono.TimeAPI
	tel    telemetry.API
	fresh  time.Duration
}

func NewService(
	authService *auth.Service,
	client *portal.Client,
	qry *db.Queries,
	makeTx db.MakeTx,
	clock chrono.TimeAPI,
	tel telemetry.API,
	config Config,
) *Service {
	assert.NotNil(authService)
	assert.NotNil(client)
	assert.NotNil(qry)
	assert.NotNil(makeTx)
	assert.NotNil(clock)
	assert.NotNil(tel)

	fresh := DefaultFreshness
	if config.FreshnessMinutes > 0 {
		fresh = time.Duration(config.FreshnessMinutes) * time.Minute
	}

	return &Service{
		auth:   authService,
		client: client,
		db:     qry,
		makeTx: makeTx,
		time:   clock,
		tel:    telemetry.NewScopedAPI("timetable", tel),
		fresh:  fresh,
	}
}

// Window returns the bounds of the week `offset` weeks from now.
func (s *Service) Window(offset int) (start, end time.Time) {
	start = chrono.WeekStart(s.time.Now().In(s.time.Location()), offset)
	return start, chrono.WeekEnd(start)
}

// Week returns the lectures of the week `offset` weeks from now. A week
// synced less than the freshness window ago is served from the cache unless
// `force` is set. A failed fetch leaves the cache untouched.
func (s *Service) Week(ctx context.Context, offset int, force bool) ([]LectureEvent, error) {
	ctx, span := tracer.Start(ctx, "Week")
	defer span.End()
	span.SetAttributes(attribute.Int("offset", offset), attribute.Bool("force", force))

	start, end := s.Window(offset)
	if s.auth.Session().IsDemoMode() {
		return DemoWeek(start, s.time.Now()), nil
	}

	if !force {
		fresh, err := s.isFresh(ctx, start)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if fresh {
			span.SetStatus(codes.Ok, "CACHE HIT")
			return s.load(ctx, start, end)
		}
	}

	events, err := s.fetch(ctx, start, end)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	err = s.replace(ctx, start, end, events)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return s.load(ctx, start, end)
}

// Cached returns the stored lectures of a week without any network access,
// `synced` is false when the week was never fetched.
func (s *Service) Cached(ctx context.Context, offset int) (events []LectureEvent, synced bool, err error) {
	start, end := s.Window(offset)
	if s.auth.Session().IsDemoMode() {
		return DemoWeek(start, s.time.Now()), true, nil
	}

	_, err = s.db.GetSyncMetadata(ctx, SyncKey(start))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		synced = false
	case err != nil:
		s.tel.ReportBroken(report_db_query, err, "GetSyncMetadata", SyncKey(start))
		return nil, false, err
	default:
		synced = true
	}

	events, err = s.load(ctx, start, end)
	if err != nil {
		return nil, false, err
	}
	return events, synced, nil
}

func (s *Service) isFresh(ctx context.Context, weekStart time.Time) (bool, error) {
	meta, err := s.db.GetSyncMetadata(ctx, SyncKey(weekStart))
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "GetSyncMetadata", SyncKey(weekStart))
		return false, err
	}
	age := s.time.Now().Sub(time.Unix(meta.LastSync, 0))
	return age >= 0 && age < s.fresh, nil
}

func (s *Service) fetch(ctx context.Context, start, end time.Time) ([]LectureEvent, error) {
	var lectures []parse.Lecture
	err := s.auth.Authorized(ctx, func(ctx context.Context, data session.AuthData) error {
		html, err := s.client.Get(
			ctx,
			portal.ScriptPath,
			portal.ProgramQuery(
				portal.ProgramScheduler,
				portal.TokenArgument(data.AuthToken),
				portal.MenuWeek,
				"-A"+start.Format("02.01.2006"),
				"-A",
				"-N1",
			),
			nil,
		)
		if err != nil {
			return err
		}
		parsed, skipped, err := parse.ParseWeekWithStats(html, s.time.Location())
		if err != nil {
			return err
		}
		if skipped > 0 {
			s.tel.ReportWarning(report_week_parse, fmt.Errorf("skipped %d appointments without a valid time", skipped), start)
		}
		lectures = parsed
		return nil
	})
	if err != nil {
		s.tel.ReportWarning(report_week_fetch, err, start)
		return nil, err
	}

	now := s.time.Now()
	events := make([]LectureEvent, 0, len(lectures))
	for _, l := range lectures {
		if l.Start.Before(start) || !l.Start.Before(end) {
			s.tel.ReportWarning(report_week_parse, fmt.Errorf("lecture outside of the requested week"), l.ShortName, l.Start)
			continue
		}
		e := LectureEvent{
			ID:               EventID(l.ShortName, l.Start, l.End),
			SubjectShortName: l.ShortName,
			SubjectFullName:  l.FullName,
			Start:            l.Start,
			End:              l.End,
			Location:         l.Location,
			IsTest:           l.IsTest,
			FetchedAt:        now,
		}
		for _, name := range l.Lecturers {
			e.Lecturers = append(e.Lecturers, Lecturer{Name: name})
		}
		events = append(events, e)
	}
	s.tel.ReportCount(report_week_count, int64(len(events)))
	return events, nil
}

// replace swaps the stored week for `events` in one transaction, marking
// the week synced.
func (s *Service) replace(ctx context.Context, start, end time.Time, events []LectureEvent) error {
	tx, discard, commit, err := s.makeTx(ctx)
	if err != nil {
		s.tel.ReportBroken(report_db_query, fmt.Errorf("make tx: %w", err))
		return err
	}
	defer discard()

	window := db.TimeRangeParams{From: start.Unix(), To: end.Unix()}
	err = tx.DeleteLecturesInRange(ctx, window)
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "DeleteLecturesInRange", window)
		return err
	}

	for _, e := range events {
		param := db.CreateLectureParams{
			ID:               e.ID,
			SubjectShortName: e.SubjectShortName,
			SubjectFullName:  e.SubjectFullName,
			StartTime:        e.Start.Unix(),
			EndTime:          e.End.Unix(),
			Location:         e.Location,
			IsTest:           e.IsTest,
			FetchedAt:        e.FetchedAt.Unix(),
		}
		err = tx.CreateLecture(ctx, param)
		if err != nil {
			s.tel.ReportBroken(report_db_query, err, "CreateLecture", param)
			return err
		}

		for i, lecturer := range e.Lecturers {
			normalized := NormalizeLecturer(lecturer.Name)
			if normalized == "" {
				continue
			}
			id, err := tx.UpsertLecturer(ctx, db.UpsertLecturerParams{
				Name:           strings.TrimSpace(lecturer.Name),
				NormalizedName: normalized,
			})
			if err != nil {
				s.tel.ReportBroken(report_db_query, err, "UpsertLecturer", lecturer.Name)
				return err
			}
			err = tx.LinkLecturer(ctx, db.LinkLecturerParams{
				LectureID:  e.ID,
				LecturerID: id,
				Position:   int64(i),
			})
			if err != nil {
				s.tel.ReportBroken(report_db_query, err, "LinkLecturer", e.ID, id)
				return err
			}
		}
	}

	err = tx.DeleteOrphanLecturers(ctx)
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "DeleteOrphanLecturers")
		return err
	}
	err = tx.UpsertSyncMetadata(ctx, db.SyncMetadatum{
		Key:      SyncKey(start),
		LastSync: s.time.Now().Unix(),
	})
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "UpsertSyncMetadata", SyncKey(start))
		return err
	}

	err = commit()
	if err != nil {
		s.tel.ReportBroken(report_week_replace, fmt.Errorf("commit: %w", err), start)
		return err
	}
	return nil
}

func (s *Service) load(ctx context.Context, start, end time.Time) ([]LectureEvent, error) {
	window := db.TimeRangeParams{From: start.Unix(), To: end.Unix()}
	rows, err := s.db.GetLecturesInRange(ctx, window)
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "GetLecturesInRange", window)
		return nil, err
	}
	lecturerRows, err := s.db.GetLecturersInRange(ctx, window)
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "GetLecturersInRange", window)
		return nil, err
	}

	lecturers := map[string][]Lecturer{}
	for _, row := range lecturerRows {
		lecturers[row.LectureID] = append(lecturers[row.LectureID], Lecturer{
			ID:   row.LecturerID,
			Name: row.Name,
		})
	}

	loc := s.time.Location()
	events := make([]LectureEvent, len(rows))
	for i, row := range rows {
		events[i] = LectureEvent{
			ID:               row.ID,
			SubjectShortName: row.SubjectShortName,
			SubjectFullName:  row.SubjectFullName,
			Start:            time.Unix(row.StartTime, 0).In(loc),
			End:              time.Unix(row.EndTime, 0).In(loc),
			Location:         row.Location,
			IsTest:           row.IsTest,
			Lecturers:        lecturers[row.ID],
			FetchedAt:        time.Unix(row.FetchedAt, 0).In(loc),
		}
	}
	return events, nil
}

// Purge deletes every stored lecture, lecturer and week sync record.
func (s *Service) Purge(ctx context.Context) error {
	tx, discard, commit, err := s.makeTx(ctx)
	if err != nil {
		s.tel.ReportBroken(report_db_query, fmt.Errorf("make tx: %w", err))
		return err
	}
	defer discard()

	err = tx.DeleteAllLectures(ctx)
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "DeleteAllLectures")
		return err
	}
	err = tx.DeleteAllSyncMetadata(ctx)
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "DeleteAllSyncMetadata")
		return err
	}
	return commit()
}
