package store

import "time"

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

type Space struct {
	ID        string
	Name      string
	Tier      string
	CreatedAt time.Time
}

type SpaceMembership struct {
	SpaceID   string
	UserID    string
	IsAdmin   bool
	CreatedAt time.Time
}

type Role struct {
	ID      string
	SpaceID string
	Name    string
}

type Proposal struct {
	ID         string
	SpaceID    string
	WorkflowID string
	Title      string
	Content    string
	Status     string
	IsTemplate bool
	Archived   bool
	// PageDeleted marks soft-deleted proposals, which keep their rows but
	// drop out of listings and workload reports.
	PageDeleted bool
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Vote struct {
	EvaluationID string
	UserID       string
	Choice       string
	CreatedAt    time.Time
}

type VoteTally struct {
	Choice string
	Count  int
}
