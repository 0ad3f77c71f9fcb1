package db

import (
	"context"
	"database/sql"
	"testing"

	"portalsync/internal/testutil"

	"github.com/stretchr/testify/require"
)

func TestLectureRangeReplace(t *testing.T) {
	ctx := context.Background()
	setup := testutil.SetupService(t, testutil.ServiceParams{DbSchema: Schema})
	makeTx := NewMakeTx(setup.DB)
	qry := New(setup.DB)

	tx, discard, commit, err := makeTx(ctx)
	require.NoError(t, err)
	for i, l := range []CreateLectureParams{
		{ID: "a", SubjectShortName: "MA", StartTime: 100, EndTime: 200, FetchedAt: 1},
		{ID: "b", SubjectShortName: "PH", StartTime: 150, EndTime: 250, FetchedAt: 1, IsTest: true},
		{ID: "c", SubjectShortName: "CS", StartTime: 1000, EndTime: 1100, FetchedAt: 1},
	} {
		require.NoError(t, tx.CreateLecture(ctx, l))
		lecturerId, err := tx.UpsertLecturer(ctx, UpsertLecturerParams{Name: "Dr. Maier", NormalizedName: "dr. maier"})
		require.NoError(t, err)
		require.NoError(t, tx.LinkLecturer(ctx, LinkLecturerParams{LectureID: l.ID, LecturerID: lecturerId, Position: int64(i)}))
	}
	require.NoError(t, commit())
	require.NoError(t, discard())

	lecturers, err := qry.CountLecturers(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), lecturers)

	lectures, err := qry.GetLecturesInRange(ctx, TimeRangeParams{From: 0, To: 500})
	require.NoError(t, err)
	require.Len(t, lectures, 2)
	require.Equal(t, "a", lectures[0].ID)
	require.True(t, lectures[1].IsTest)

	links, err := qry.GetLecturersInRange(ctx, TimeRangeParams{From: 0, To: 500})
	require.NoError(t, err)
	require.Len(t, links, 2)
	require.Equal(t, "Dr. Maier", links[0].Name)

	require.NoError(t, qry.DeleteLecturesInRange(ctx, TimeRangeParams{From: 0, To: 500}))
	lectures, err = qry.GetLecturesInRange(ctx, TimeRangeParams{From: 0, To: 2000})
	require.NoError(t, err)
	require.Len(t, lectures, 1)

	// the lecturer is still linked to lecture "c"
	require.NoError(t, qry.DeleteOrphanLecturers(ctx))
	lecturers, err = qry.CountLecturers(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), lecturers)

	require.NoError(t, qry.DeleteAllLectures(ctx))
	lecturers, err = qry.CountLecturers(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), lecturers)
}

func TestDiscardedTxLeavesNoRows(t *testing.T) {
	ctx := context.Background()
	setup := testutil.SetupService(t, testutil.ServiceParams{DbSchema: Schema})
	makeTx := NewMakeTx(setup.DB)

	tx, discard, _, err := makeTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.CreateGrade(ctx, CreateGradeParams{
		StudentID: "s", SemesterID: "1", ModuleNumber: "T1", ModuleName: "Math",
		Grade: sql.NullFloat64{Float64: 1.3, Valid: true}, Credits: 5,
	}))
	require.NoError(t, discard())

	grades, err := New(setup.DB).GetGrades(ctx, StudentSemesterParams{StudentID: "s", SemesterID: "1"})
	require.NoError(t, err)
	require.Empty(t, grades)
}

func TestMetadata(t *testing.T) {
	ctx := context.Background()
	setup := testutil.SetupService(t, testutil.ServiceParams{DbSchema: Schema})
	qry := New(setup.DB)

	_, err := qry.GetSyncMetadata(ctx, "timetable:2025-10-13")
	require.ErrorIs(t, err, sql.ErrNoRows)

	require.NoError(t, qry.UpsertSyncMetadata(ctx, SyncMetadatum{Key: "timetable:2025-10-13", LastSync: 10}))
	require.NoError(t, qry.UpsertSyncMetadata(ctx, SyncMetadatum{Key: "timetable:2025-10-13", LastSync: 20}))
	meta, err := qry.GetSyncMetadata(ctx, "timetable:2025-10-13")
	require.NoError(t, err)
	require.Equal(t, int64(20), meta.LastSync)

	require.NoError(t, qry.UpsertCacheMetadata(ctx, CacheMetadatum{Key: "grades:s:1", LastUpdated: 5}))
	require.NoError(t, qry.DeleteAllCacheMetadata(ctx))
	_, err = qry.GetCacheMetadata(ctx, "grades:s:1")
	require.ErrorIs(t, err, sql.ErrNoRows)
}
