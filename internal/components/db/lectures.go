package db

import (
	"context"
)

const createLecture = `-- name: CreateLecture :exec
INSERT OR REPLACE INTO lecture (
    id, subject_short_name, subject_full_name, start_time, end_time, location, is_test, fetched_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`

type CreateLectureParams struct {
	ID               string
	SubjectShortName string
	SubjectFullName  string
	StartTime        int64
	EndTime          int64
	Location         string
	IsTest           bool
	FetchedAt        int64
}

func (q *Queries) CreateLecture(ctx context.Context, arg CreateLectureParams) error {
	_, err := q.db.ExecContext(ctx, createLecture,
		arg.ID,
		arg.SubjectShortName,
		arg.SubjectFullName,
		arg.StartTime,
		arg.EndTime,
		arg.Location,
		arg.IsTest,
		arg.FetchedAt,
	)
	return err
}

const getLecturesInRange = `-- name: GetLecturesInRange :many
SELECT id, subject_short_name, subject_full_name, start_time, end_time, location, is_test, fetched_at
FROM lecture
WHERE start_time >= ? AND start_time < ?
ORDER BY start_time, subject_short_name, id
`

type TimeRangeParams struct {
	From int64
	To   int64
}

func (q *Queries) GetLecturesInRange(ctx context.Context, arg TimeRangeParams) ([]Lecture, error) {
	rows, err := q.db.QueryContext(ctx, getLecturesInRange, arg.From, arg.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Lecture
	for rows.Next() {
		var i Lecture
		if err := rows.Scan(
			&i.ID,
			&i.SubjectShortName,
			&i.SubjectFullName,
			&i.StartTime,
			&i.EndTime,
			&i.Location,
			&i.IsTest,
			&i.FetchedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteLectureLinksInRange = `-- name: DeleteLectureLinksInRange :exec
DELETE FROM lecture_lecturer
WHERE lecture_id IN (SELECT id FROM lecture WHERE start_time >= ? AND start_time < ?)
`

const deleteLecturesInRange = `-- name: DeleteLecturesInRange :exec
DELETE FROM lecture WHERE start_time >= ? AND start_time < ?
`

// DeleteLecturesInRange removes every lecture starting in [From, To) together
// with its lecturer links.
func (q *Queries) DeleteLecturesInRange(ctx context.Context, arg TimeRangeParams) error {
	_, err := q.db.ExecContext(ctx, deleteLectureLinksInRange, arg.From, arg.To)
	if err != nil {
		return err
	}
	_, err = q.db.ExecContext(ctx, deleteLecturesInRange, arg.From, arg.To)
	return err
}

const upsertLecturer = `-- name: UpsertLecturer :one
INSERT INTO lecturer (name, normalized_name) VALUES (?, ?)
ON CONFLICT (normalized_name) DO UPDATE SET name = lecturer.name
RETURNING id
`

type UpsertLecturerParams struct {
	Name           string
	NormalizedName string
}

// UpsertLecturer returns the id of the lecturer with the normalized name,
// an existing lecturer keeps the spelling it was first stored with.
func (q *Queries) UpsertLecturer(ctx context.Context, arg UpsertLecturerParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, upsertLecturer, arg.Name, arg.NormalizedName)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const linkLecturer = `-- name: LinkLecturer :exec
INSERT OR IGNORE INTO lecture_lecturer (lecture_id, lecturer_id, position) VALUES (?, ?, ?)
`

type LinkLecturerParams struct {
	LectureID  string
	LecturerID int64
	Position   int64
}

func (q *Queries) LinkLecturer(ctx context.Context, arg LinkLecturerParams) error {
	_, err := q.db.ExecContext(ctx, linkLecturer, arg.LectureID, arg.LecturerID, arg.Position)
	return err
}

const getLecturersInRange = `-- name: GetLecturersInRange :many
SELECT lecture_lecturer.lecture_id, lecturer.id, lecturer.name
FROM lecture_lecturer
JOIN lecturer ON lecturer.id = lecture_lecturer.lecturer_id
JOIN lecture ON lecture.id = lecture_lecturer.lecture_id
WHERE lecture.start_time >= ? AND lecture.start_time < ?
ORDER BY lecture_lecturer.lecture_id, lecture_lecturer.position
`

type GetLecturersInRangeRow struct {
	LectureID  string
	LecturerID int64
	Name       string
}

func (q *Queries) GetLecturersInRange(ctx context.Context, arg TimeRangeParams) ([]GetLecturersInRangeRow, error) {
	rows, err := q.db.QueryContext(ctx, getLecturersInRange, arg.From, arg.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []GetLecturersInRangeRow
	for rows.Next() {
		var i GetLecturersInRangeRow
		if err := rows.Scan(&i.LectureID, &i.LecturerID, &i.Name); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteOrphanLecturers = `-- name: DeleteOrphanLecturers :exec
DELETE FROM lecturer WHERE id NOT IN (SELECT lecturer_id FROM lecture_lecturer)
`

func (q *Queries) DeleteOrphanLecturers(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, deleteOrphanLecturers)
	return err
}

const countLecturers = `-- name: CountLecturers :one
SELECT count(*) FROM lecturer
`

func (q *Queries) CountLecturers(ctx context.Context) (int64, error) {
	row := q.db.QueryRowContext(ctx, countLecturers)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const deleteAllLectureLinks = `-- name: DeleteAllLectureLinks :exec
DELETE FROM lecture_lecturer
`

const deleteAllLectures = `-- name: DeleteAllLectures :exec
DELETE FROM lecture
`

const deleteAllLecturers = `-- name: DeleteAllLecturers :exec
DELETE FROM lecturer
`

// DeleteAllLectures removes every lecture, lecturer and link between them.
func (q *Queries) DeleteAllLectures(ctx context.Context) error {
	for _, stmt := range []string{deleteAllLectureLinks, deleteAllLectures, deleteAllLecturers} {
		_, err := q.db.ExecContext(ctx, stmt)
		if err != nil {
			return err
		}
	}
	return nil
}
