package grades

func DemoSemesters() []Semester {
	return []Semester{
		{ID: "000000015178000", Name: "WiSe 2025/26", Selected: true},
		{ID: "000000015168000", Name: "SoSe 2025"},
	}
}

func demoGrade(semesterID, number, name string, grade *float64, credits float64, status string) Grade {
	return Grade{
		StudentID:    "demo",
		SemesterID:   semesterID,
		ModuleNumber: number,
		ModuleName:   name,
		Grade:        grade,
		Credits:      credits,
		Status:       status,
	}
}

func released(v float64) *float64 {
	return &v
}

// DemoGrades returns the canned grades of a demo semester.
func DemoGrades(semesterID string) []Grade {
	switch semesterID {
	case "000000015178000":
		return []Grade{
			demoGrade(semesterID, "INF-101", "Mathematik 1", released(1.3), 5, "bestanden"),
			demoGrade(semesterID, "INF-102", "Programmieren", released(2.0), 5, "bestanden"),
			demoGrade(semesterID, "INF-103", "Technische Informatik 1", nil, 5, ""),
		}
	case "000000015168000":
		return []Grade{
			demoGrade(semesterID, "INF-001", "Einführung in die Informatik", released(1.7), 5, "bestanden"),
			demoGrade(semesterID, "INF-002", "Lineare Algebra", released(3.0), 5, "bestanden"),
		}
	}
	return []Grade{}
}
