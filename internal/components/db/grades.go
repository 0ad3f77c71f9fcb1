package db

import (
	"context"
	"database/sql"
)

const createGrade = `-- name: CreateGrade :exec
INSERT OR REPLACE INTO grade (
    student_id, semester_id, module_number, module_name, grade, credits, status, position
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`

type CreateGradeParams struct {
	StudentID    string
	SemesterID   string
	ModuleNumber string
	ModuleName   string
	Grade        sql.NullFloat64
	Credits      float64
	Status       string
	Position     int64
}

func (q *Queries) CreateGrade(ctx context.Context, arg CreateGradeParams) error {
	_, err := q.db.ExecContext(ctx, createGrade,
		arg.StudentID,
		arg.SemesterID,
		arg.ModuleNumber,
		arg.ModuleName,
		arg.Grade,
		arg.Credits,
		arg.Status,
		arg.Position,
	)
	return err
}

type StudentSemesterParams struct {
	StudentID  string
	SemesterID string
}

const getGrades = `-- name: GetGrades :many
SELECT student_id, semester_id, module_number, module_name, grade, credits, status, position
FROM grade
WHERE student_id = ? AND semester_id = ?
ORDER BY position
`

func (q *Queries) GetGrades(ctx context.Context, arg StudentSemesterParams) ([]Grade, error) {
	rows, err := q.db.QueryContext(ctx, getGrades, arg.StudentID, arg.SemesterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Grade
	for rows.Next() {
		var i Grade
		if err := rows.Scan(
			&i.StudentID,
			&i.SemesterID,
			&i.ModuleNumber,
			&i.ModuleName,
			&i.Grade,
			&i.Credits,
			&i.Status,
			&i.Position,
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

const deleteGrades = `-- name: DeleteGrades :exec
DELETE FROM grade WHERE student_id = ? AND semester_id = ?
`

func (q *Queries) DeleteGrades(ctx context.Context, arg StudentSemesterParams) error {
	_, err := q.db.ExecContext(ctx, deleteGrades, arg.StudentID, arg.SemesterID)
	return err
}

const deleteAllGrades = `-- name: DeleteAllGrades :exec
DELETE FROM grade
`

func (q *Queries) DeleteAllGrades(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, deleteAllGrades)
	return err
}

const createSemester = `-- name: CreateSemester :exec
INSERT OR REPLACE INTO semester (student_id, semester_id, name, selected, position) VALUES (?, ?, ?, ?, ?)
`

type CreateSemesterParams struct {
	StudentID  string
	SemesterID string
	Name       string
	Selected   bool
	Position   int64
}

func (q *Queries) CreateSemester(ctx context.Context, arg CreateSemesterParams) error {
	_, err := q.db.ExecContext(ctx, createSemester,
		arg.StudentID,
		arg.SemesterID,
		arg.Name,
		arg.Selected,
		arg.Position,
	)
	return err
}

const getSemesters = `-- name: GetSemesters :many
SELECT student_id, semester_id, name, selected, position
FROM semester
WHERE student_id = ?
ORDER BY position
`

func (q *Queries) GetSemesters(ctx context.Context, studentID string) ([]Semester, error) {
	rows, err := q.db.QueryContext(ctx, getSemesters, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Semester
	for rows.Next() {
		var i Semester
		if err := rows.Scan(
			&i.StudentID,
			&i.SemesterID,
			&i.Name,
			&i.Selected,
			&i.Position,
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

const deleteSemesters = `-- name: DeleteSemesters :exec
DELETE FROM semester WHERE student_id = ?
`

func (q *Queries) DeleteSemesters(ctx context.Context, studentID string) error {
	_, err := q.db.ExecContext(ctx, deleteSemesters, studentID)
	return err
}

const deleteAllSemesters = `-- name: DeleteAllSemesters :exec
DELETE FROM semester
`

func (q *Queries) DeleteAllSemesters(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, deleteAllSemesters)
	return err
}
