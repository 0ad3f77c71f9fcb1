package commands

import (
	"fmt"
	"strconv"

	"portalsync/internal/grades"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	gradesSemester string
	gradesForce    bool
	gradesFind     string
)

func init() {
	gradesCmd.Flags().StringVarP(&gradesSemester, "semester", "s", "", "The semester id, defaults to the current semester.")
	gradesCmd.Flags().BoolVarP(&gradesForce, "force", "f", false, "Refetch even when the cache is fresh.")
	gradesCmd.Flags().StringVar(&gradesFind, "find", "", "Only show the module best matching a number or name.")
	rootCmd.AddCommand(gradesCmd)
	rootCmd.AddCommand(semestersCmd)
}

func formatGrade(g grades.Grade) string {
	if g.Grade == nil {
		return "-"
	}
	return strconv.FormatFloat(*g.Grade, 'f', 1, 64)
}

var gradesCmd = &cobra.Command{
	Use:   "grades",
	Short: "Show the grades of a semester.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		app := mustOpenApp(ctx)
		defer app.Close(ctx)

		list, err := app.Grades.Grades(ctx, gradesSemester, gradesForce)
		if err != nil {
			fatal("failed to get grades", err)
		}

		if gradesFind != "" {
			match, ok := grades.FindModule(list, gradesFind)
			if !ok {
				fmt.Printf("no module matches %q\n", gradesFind)
				return
			}
			list = []grades.Grade{match}
		}

		t := newTable()
		t.AppendHeader(table.Row{"Module", "Name", "Grade", "Credits", "Status"})
		for _, g := range list {
			t.AppendRow(table.Row{g.ModuleNumber, g.ModuleName, formatGrade(g), g.Credits, g.Status})
		}
		average := "-"
		if avg, ok := grades.Average(list); ok {
			average = strconv.FormatFloat(avg, 'f', 2, 64)
		}
		t.AppendFooter(table.Row{"", "Average", average, grades.TotalCredits(list), ""})
		t.Render()
	},
}

var semestersCmd = &cobra.Command{
	Use:   "semesters",
	Short: "List the semesters grades are available for.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		app := mustOpenApp(ctx)
		defer app.Close(ctx)

		semesters, err := app.Grades.Semesters(ctx)
		if err != nil {
			fatal("failed to get semesters", err)
		}

		t := newTable()
		t.AppendHeader(table.Row{"Id", "Name", "Current"})
		for _, s := range semesters {
			current := ""
			if s.Selected {
				current = "*"
			}
			t.AppendRow(table.Row{s.ID, s.Name, current})
		}
		t.Render()
	},
}
