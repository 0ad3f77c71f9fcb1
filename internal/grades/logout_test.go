package grades

import (
	"context"
	"testing"
	"time"

	"portalsync/internal/components/db"
	"portalsync/internal/portal/portaltest"
	"portalsync/internal/testutil/harness"
	"portalsync/internal/timetable"

	"github.com/stretchr/testify/require"
)

func TestLogoutClearsCaches(t *testing.T) {
	ctx := context.Background()
	h, s := setup(t)
	lectures := timetable.NewService(h.Auth, h.Client, h.Queries, h.MakeTx, h.Clock, h.Tel, timetable.Config{})
	h.Auth.RegisterPurger(s)
	h.Auth.RegisterPurger(lectures)

	monday := time.Date(2025, time.October, 13, 8, 15, 0, 0, h.Portal.Location)
	h.Portal.SetWeek(monday, []portaltest.Lecture{{
		ShortName: "MA1",
		FullName:  "Mathematik 1",
		Start:     monday,
		End:       monday.Add(90 * time.Minute),
		Room:      "A 1.01",
		Lecturers: []string{"Prof. Dr. Ada Lovelace"},
	}})
	h.Login(t)

	week, err := lectures.Week(ctx, 0, false)
	require.NoError(t, err)
	require.Len(t, week, 1)
	grades, err := s.Grades(ctx, winter, false)
	require.NoError(t, err)
	require.NotEmpty(t, grades)

	require.NoError(t, h.Auth.Logout(ctx))
	require.False(t, h.Auth.IsAuthenticated())

	cached, synced, err := lectures.Cached(ctx, 0)
	require.NoError(t, err)
	require.False(t, synced)
	require.Empty(t, cached)

	stored, err := h.Queries.GetGrades(ctx, db.StudentSemesterParams{StudentID: harness.Username, SemesterID: winter})
	require.NoError(t, err)
	require.Empty(t, stored)
	semesters, err := h.Queries.GetSemesters(ctx, harness.Username)
	require.NoError(t, err)
	require.Empty(t, semesters)
	count, err := h.Queries.CountLecturers(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}
