package commands

import (
	"fmt"
	"strings"

	"portalsync/internal/timetable"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	timetableWeek   int
	timetableForce  bool
	timetableCached bool
)

func init() {
	timetableCmd.Flags().IntVarP(&timetableWeek, "week", "w", 0, "Week offset relative to the current week.")
	timetableCmd.Flags().BoolVarP(&timetableForce, "force", "f", false, "Refetch even when the cache is fresh.")
	timetableCmd.Flags().BoolVar(&timetableCached, "cached", false, "Only read the cache, never contact the portal.")
	rootCmd.AddCommand(timetableCmd)
}

func renderLectures(events []timetable.LectureEvent) {
	t := newTable()
	t.AppendHeader(table.Row{"Day", "Time", "Module", "Room", "Lecturers", "Exam"})
	for _, e := range events {
		exam := ""
		if e.IsTest {
			exam = "yes"
		}
		t.AppendRow(table.Row{
			e.Start.Format("Mon 02.01."),
			fmt.Sprintf("%s-%s", e.Start.Format("15:04"), e.End.Format("15:04")),
			e.SubjectFullName,
			e.Location,
			strings.Join(e.LecturerNames(), ", "),
			exam,
		})
	}
	t.Render()
}

var timetableCmd = &cobra.Command{
	Use:   "timetable",
	Short: "Show the lectures of a week.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		app := mustOpenApp(ctx)
		defer app.Close(ctx)

		start, end := app.Timetable.Window(timetableWeek)
		fmt.Printf("week of %s to %s\n", start.Format("02.01.2006"), end.AddDate(0, 0, -1).Format("02.01.2006"))

		if timetableCached {
			events, synced, err := app.Timetable.Cached(ctx, timetableWeek)
			if err != nil {
				fatal("failed to read cached timetable", err)
			}
			if !synced {
				fmt.Println("this week has not been synced yet")
				return
			}
			renderLectures(events)
			return
		}

		events, err := app.Timetable.Week(ctx, timetableWeek, timetableForce)
		if err != nil {
			fatal("failed to get timetable", err)
		}
		if len(events) == 0 {
			fmt.Println("no lectures this week")
			return
		}
		renderLectures(events)
	},
}
