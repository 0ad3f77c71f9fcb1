package db

import "database/sql"

type Lecture struct {
	ID               string
	SubjectShortName string
	SubjectFullName  string
	StartTime        int64
	EndTime          int64
	Location         string
	IsTest           bool
	FetchedAt        int64
}

type Lecturer struct {
	ID             int64
	Name           string
	NormalizedName string
}

type Grade struct {
	StudentID    string
	SemesterID   string
	ModuleNumber string
	ModuleName   string
	Grade        sql.NullFloat64
	Credits      float64
	Status       string
	Position     int64
}

type Semester struct {
	StudentID  string
	SemesterID string
	Name       string
	Selected   bool
	Position   int64
}

type SyncMetadatum struct {
	Key      string
	LastSync int64
}

type CacheMetadatum struct {
	Key         string
	LastUpdated int64
}
