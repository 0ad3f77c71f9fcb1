package grades

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
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

var tracer = otel.Tracer("portalsync/grades")

const (
	report_db_query       = "db.query"
	report_grades_fetch   = "grades.fetch"
	report_grades_replace = "grades.replace"
	report_grades_count   = "grades.modules"
)

const DefaultFreshness = 6 * time.Hour

// ErrNoSemester is returned when the portal lists no semester to pick the
// grades of.
var ErrNoSemester = errors.New("grades: the portal lists no semester")

type Config struct {
	// FreshnessHours is how long cached grades are served without asking
	// the portal, zero means DefaultFreshness.
	FreshnessHours int `json:"freshness_hours"`
}

// Grade is a module result, Grade is nil while it is not released.
type Grade struct {
	StudentID    string
	SemesterID   string
	ModuleNumber string
	ModuleName   string
	Grade        *float64
	Credits      float64
	Status       string
}

type Semester struct {
	ID       string
	Name     string
	Selected bool
}

func CacheKey(studentID, semesterID string) string {
	return "grades:" + studentID + ":" + semesterID
}

func semestersKey(studentID string) string {
	return "semesters:" + studentID
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
	if config.FreshnessHours > 0 {
		fresh = time.Duration(config.FreshnessHours) * time.Hour
	}

	return &Service{
		auth:   authService,
		client: client,
		db:     qry,
		makeTx: makeTx,
		time:   clock,
		tel:    telemetry.NewScopedAPI("grades", tel),
		fresh:  fresh,
	}
}

// studentID identifies whose grades are cached, the portal login name is
// the only stable identifier available.
func (s *Service) studentID() (string, error) {
	credentials, ok := s.auth.Session().Credentials()
	if !ok || credentials.Username == "" {
		return "", auth.ErrNoCredentials
	}
	return credentials.Username, nil
}

func (s *Service) isFresh(ctx context.Context, key string) (bool, error) {
	meta, err := s.db.GetCacheMetadata(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "GetCacheMetadata", key)
		return false, err
	}
	age := s.time.Now().Sub(time.Unix(meta.LastUpdated, 0))
	return age >= 0 && age < s.fresh, nil
}

// fetch requests the grade view of `semesterID` (the portal's current
// semester when empty) and hands it to `read`, which must fail with
// parse.ErrLoginPage on an expired session.
func (s *Service) fetch(ctx context.Context, semesterID string, read func(html string) error) error {
	err := s.auth.Authorized(ctx, func(ctx context.Context, data session.AuthData) error {
		html, err := s.client.Get(
			ctx,
			portal.ScriptPath,
			portal.ProgramQuery(
				portal.ProgramCourseResults,
				portal.TokenArgument(data.AuthToken),
				portal.MenuResults,
				"-N"+semesterID,
			),
			nil,
		)
		if err != nil {
			return err
		}
		return read(html)
	})
	if err != nil {
		s.tel.ReportWarning(report_grades_fetch, err, semesterID)
	}
	return err
}

// Semesters returns the semesters the grade view offers.
func (s *Service) Semesters(ctx context.Context) ([]Semester, error) {
	ctx, span := tracer.Start(ctx, "Semesters")
	defer span.End()

	if s.auth.Session().IsDemoMode() {
		return DemoSemesters(), nil
	}
	student, err := s.studentID()
	if err != nil {
		return nil, err
	}

	fresh, err := s.isFresh(ctx, semestersKey(student))
	if err != nil {
		return nil, err
	}
	if fresh {
		span.SetStatus(codes.Ok, "CACHE HIT")
		return s.loadSemesters(ctx, student)
	}

	var semesters []parse.Semester
	err = s.fetch(ctx, "", func(html string) error {
		parsed, err := parse.ParseSemesters(html)
		semesters = parsed
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	tx, discard, commit, err := s.makeTx(ctx)
	if err != nil {
		s.tel.ReportBroken(report_db_query, fmt.Errorf("make tx: %w", err))
		return nil, err
	}
	defer discard()

	err = tx.DeleteSemesters(ctx, student)
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "DeleteSemesters", student)
		return nil, err
	}
	for i, semester := range semesters {
		err = tx.CreateSemester(ctx, db.CreateSemesterParams{
			StudentID:  student,
			SemesterID: semester.ID,
			Name:       semester.Name,
			Selected:   semester.Selected,
			Position:   int64(i),
		})
		if err != nil {
			s.tel.ReportBroken(report_db_query, err, "CreateSemester", semester.ID)
			return nil, err
		}
	}
	err = tx.UpsertCacheMetadata(ctx, db.CacheMetadatum{
		Key:         semestersKey(student),
		LastUpdated: s.time.Now().Unix(),
	})
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "UpsertCacheMetadata", semestersKey(student))
		return nil, err
	}
	err = commit()
	if err != nil {
		s.tel.ReportBroken(report_grades_replace, fmt.Errorf("commit semesters: %w", err))
		return nil, err
	}

	return s.loadSemesters(ctx, student)
}

func (s *Service) loadSemesters(ctx context.Context, student string) ([]Semester, error) {
	rows, err := s.db.GetSemesters(ctx, student)
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "GetSemesters", student)
		return nil, err
	}
	semesters := make([]Semester, len(rows))
	for i, row := range rows {
		semesters[i] = Semester{
			ID:       row.SemesterID,
			Name:     row.Name,
			Selected: row.Selected,
		}
	}
	return semesters, nil
}

// CurrentSemester returns the semester the portal preselects, or the first
// one listed.
func (s *Service) CurrentSemester(ctx context.Context) (Semester, error) {
	semesters, err := s.Semesters(ctx)
	if err != nil {
		return Semester{}, err
	}
	if len(semesters) == 0 {
		return Semester{}, ErrNoSemester
	}
	for _, semester := range semesters {
		if semester.Selected {
			return semester, nil
		}
	}
	return semesters[0], nil
}

// Grades returns the grades of a semester, the current semester when
// `semesterID` is empty. Grades updated less than the freshness window ago
// are served from the cache unless `force` is set. A failed fetch leaves the
// cache untouched.
func (s *Service) Grades(ctx context.Context, semesterID string, force bool) ([]Grade, error) {
	ctx, span := tracer.Start(ctx, "Grades")
	defer span.End()
	span.SetAttributes(attribute.String("semester", semesterID), attribute.Bool("force", force))

	if s.auth.Session().IsDemoMode() {
		if semesterID == "" {
			semesterID = DemoSemesters()[0].ID
		}
		return DemoGrades(semesterID), nil
	}
	student, err := s.studentID()
	if err != nil {
		return nil, err
	}

	if semesterID == "" {
		current, err := s.CurrentSemester(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		semesterID = current.ID
	}
	key := CacheKey(student, semesterID)

	if !force {
		fresh, err := s.isFresh(ctx, key)
		if err != nil {
			return nil, err
		}
		if fresh {
			span.SetStatus(codes.Ok, "CACHE HIT")
			return s.loadGrades(ctx, student, semesterID)
		}
	}

	var rows []parse.GradeRow
	err = s.fetch(ctx, semesterID, func(html string) error {
		parsed, err := parse.ParseGrades(html)
		rows = parsed
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	s.tel.ReportCount(report_grades_count, int64(len(rows)))

	err = s.replace(ctx, student, semesterID, rows)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return s.loadGrades(ctx, student, semesterID)
}

func (s *Service) replace(ctx context.Context, student, semesterID string, rows []parse.GradeRow) error {
	tx, discard, commit, err := s.makeTx(ctx)
	if err != nil {
		s.tel.ReportBroken(report_db_query, fmt.Errorf("make tx: %w", err))
		return err
	}
	defer discard()

	param := db.StudentSemesterParams{StudentID: student, SemesterID: semesterID}
	err = tx.DeleteGrades(ctx, param)
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "DeleteGrades", param)
		return err
	}

	for i, row := range rows {
		grade := sql.NullFloat64{}
		if row.Grade != nil {
			grade = sql.NullFloat64{Float64: *row.Grade, Valid: true}
		}
		err = tx.CreateGrade(ctx, db.CreateGradeParams{
			StudentID:    student,
			SemesterID:   semesterID,
			ModuleNumber: row.ModuleNumber,
			ModuleName:   row.ModuleName,
			Grade:        grade,
			Credits:      row.Credits,
			Status:       row.Status,
			Position:     int64(i),
		})
		if err != nil {
			s.tel.ReportBroken(report_db_query, err, "CreateGrade", row.ModuleNumber)
			return err
		}
	}

	err = tx.UpsertCacheMetadata(ctx, db.CacheMetadatum{
		Key:         CacheKey(student, semesterID),
		LastUpdated: s.time.Now().Unix(),
	})
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "UpsertCacheMetadata", CacheKey(student, semesterID))
		return err
	}

	err = commit()
	if err != nil {
		s.tel.ReportBroken(report_grades_replace, fmt.Errorf("commit: %w", err), semesterID)
		return err
	}
	return nil
}

func (s *Service) loadGrades(ctx context.Context, student, semesterID string) ([]Grade, error) {
	param := db.StudentSemesterParams{StudentID: student, SemesterID: semesterID}
	rows, err := s.db.GetGrades(ctx, param)
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "GetGrades", param)
		return nil, err
	}

	grades := make([]Grade, len(rows))
	for i, row := range rows {
		grades[i] = Grade{
			StudentID:    row.StudentID,
			SemesterID:   row.SemesterID,
			ModuleNumber: row.ModuleNumber,
			ModuleName:   row.ModuleName,
			Credits:      row.Credits,
			Status:       row.Status,
		}
		if row.Grade.Valid {
			value := row.Grade.Float64
			grades[i].Grade = &value
		}
	}
	return grades, nil
}

// Purge deletes every cached grade and semester.
func (s *Service) Purge(ctx context.Context) error {
	tx, discard, commit, err := s.makeTx(ctx)
	if err != nil {
		s.tel.ReportBroken(report_db_query, fmt.Errorf("make tx: %w", err))
		return err
	}
	defer discard()

	err = tx.DeleteAllGrades(ctx)
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "DeleteAllGrades")
		return err
	}
	err = tx.DeleteAllSemesters(ctx)
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "DeleteAllSemesters")
		return err
	}
	err = tx.DeleteAllCacheMetadata(ctx)
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "DeleteAllCacheMetadata")
		return err
	}
	return commit()
}
