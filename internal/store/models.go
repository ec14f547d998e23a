package store

import (
	"encoding/json"
	"time"
)

type UserProfile struct {
	ID                    string
	Email                 string
	FullName              string
	PasswordHash          string
	EmailVerified         bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Organization struct {
	ID        string
	Name      string
	Slug      string
	OwnerID   string
	LogoKey   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Member struct {
	ID             string
	OrganizationID string
	UserID         string
	Email          string
	FullName       string
	Role           string
	Status         string
	InvitedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Client struct {
	ID             string
	OrganizationID string
	Email          string
	FullName       string
	Company        string
	PasswordHash   string
	CreatedBy      string
	CreatedAt      time.Time
}

const IntegrationMonday = "monday"

type Integration struct {
	ID              string
	UserID          string
	IntegrationType string
	AccountID       string
	AccountName     string
	AccountSlug     string
	RemoteUserID    string
	AccessToken     string
	Scopes          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type BoardConfig struct {
	ID                string
	OrganizationID    string
	BoardID           string
	AccountID         string
	BoardName         string
	FilterColumnID    string
	FilterColumnTitle string
	VisibleColumns    []string
	CreatedBy         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	// Active is derived: the owner holds an integration for AccountID.
	Active bool
}

// Principal types for access mappings.
const (
	PrincipalMember = "member"
	PrincipalClient = "client"
)

type AccessMapping struct {
	PrincipalType string
	PrincipalID   string
	BoardConfigID string
	FilterValue   string
	UpdatedAt     time.Time
}

type CustomView struct {
	ID             string
	OrganizationID string
	Name           string
	Slug           string
	BoardID        string
	BoardConfigID  string
	Columns        []string
	Settings       json.RawMessage
	Position       int
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type WorkflowTemplate struct {
	ID           string
	Key          string
	Name         string
	Description  string
	Category     string
	ActionKind   string
	ActionConfig json.RawMessage
	InputSchema  json.RawMessage
	IsActive     bool
	CreatedAt    time.Time
}

type WorkflowExecution struct {
	ID             string
	OrganizationID string
	TemplateID     string
	TriggeredBy    string
	Status         string
	Input          json.RawMessage
	Output         json.RawMessage
	ErrorMessage   string
	StartedAt      *time.Time
	CompletedAt    *time.Time
	DurationMS     *int64
	CreatedAt      time.Time
}

// ExecutionUpdate carries the fields written on a status transition.
type ExecutionUpdate struct {
	Output       json.RawMessage
	ErrorMessage string
	StartedAt    *time.Time
	CompletedAt  *time.Time
	DurationMS   *int64
}
