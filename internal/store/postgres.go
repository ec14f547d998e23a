package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrConflict is returned when a unique constraint rejects a write.
	ErrConflict = errors.New("conflict")
	// ErrTransitionRejected is returned when an execution is not in the
	// expected source status.
	ErrTransitionRejected = errors.New("execution transition rejected")
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func marshalStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func unmarshalStrings(raw []byte) ([]string, error) {
	out := []string{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func jsonOrDefault(raw json.RawMessage, fallback string) string {
	if len(raw) == 0 {
		return fallback
	}
	return string(raw)
}

// Users

func (s *PostgresStore) CreateUser(ctx context.Context, user UserProfile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_profiles (id, email, full_name, password_hash, email_verified, verification_token, verification_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, user.ID, user.Email, user.FullName, user.PasswordHash, user.EmailVerified, nullString(user.VerificationToken), user.VerificationExpiresAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

const userColumns = `id, email, full_name, password_hash, email_verified, verification_token, verification_expires_at, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (UserProfile, error) {
	var user UserProfile
	var token sql.NullString
	var expires sql.NullTime
	err := row.Scan(&user.ID, &user.Email, &user.FullName, &user.PasswordHash, &user.EmailVerified, &token, &expires, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return UserProfile{}, err
	}
	user.VerificationToken = token.String
	if expires.Valid {
		user.VerificationExpiresAt = &expires.Time
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (UserProfile, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM user_profiles WHERE LOWER(email)=LOWER($1)`, email))
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (UserProfile, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM user_profiles WHERE id=$1`, id))
}

// VerifyUserEmail consumes an unexpired verification token.
func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) (UserProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE user_profiles
		SET email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
		RETURNING `+userColumns, token)
	return scanUser(row)
}

// Organizations and members

const orgColumns = `id, name, slug, owner_id, logo_key, created_at, updated_at`

func scanOrganization(row interface{ Scan(...any) error }) (Organization, error) {
	var org Organization
	err := row.Scan(&org.ID, &org.Name, &org.Slug, &org.OwnerID, &org.LogoKey, &org.CreatedAt, &org.UpdatedAt)
	return org, err
}

// CreateOrganization inserts the organization and its owner membership in one
// transaction.
func (s *PostgresStore) CreateOrganization(ctx context.Context, org Organization, owner Member) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO organizations (id, name, slug, owner_id)
		VALUES ($1, $2, $3, $4)
	`, org.ID, org.Name, org.Slug, org.OwnerID); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert organization: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO organization_members (id, organization_id, user_id, email, role, status, invited_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, owner.ID, org.ID, nullString(owner.UserID), owner.Email, owner.Role, owner.Status, owner.InvitedBy); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert owner membership: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit organization: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetOrganization(ctx context.Context, id string) (Organization, error) {
	return scanOrganization(s.db.QueryRowContext(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id=$1`, id))
}

func (s *PostgresStore) ListOrganizations(ctx context.Context) ([]Organization, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+orgColumns+` FROM organizations ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()
	out := make([]Organization, 0)
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, fmt.Errorf("scan organization: %w", err)
		}
		out = append(out, org)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetOrganizationLogo(ctx context.Context, orgID, key string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE organizations SET logo_key=$2, updated_at=NOW() WHERE id=$1`, orgID, key)
	if err != nil {
		return fmt.Errorf("update organization logo: %w", err)
	}
	return expectAffected(res)
}

const memberSelect = `
	SELECT m.id, m.organization_id, COALESCE(m.user_id, ''), m.email, COALESCE(u.full_name, ''),
		m.role, m.status, m.invited_by, m.created_at, m.updated_at
	FROM organization_members m
	LEFT JOIN user_profiles u ON u.id = m.user_id
`

func scanMember(row interface{ Scan(...any) error }) (Member, error) {
	var m Member
	err := row.Scan(&m.ID, &m.OrganizationID, &m.UserID, &m.Email, &m.FullName, &m.Role, &m.Status, &m.InvitedBy, &m.CreatedAt, &m.UpdatedAt)
	return m, err
}

func (s *PostgresStore) GetMembershipByUser(ctx context.Context, userID string) (Member, error) {
	return scanMember(s.db.QueryRowContext(ctx, memberSelect+` WHERE m.user_id=$1`, userID))
}

func (s *PostgresStore) GetMember(ctx context.Context, orgID, memberID string) (Member, error) {
	return scanMember(s.db.QueryRowContext(ctx, memberSelect+` WHERE m.organization_id=$1 AND m.id=$2`, orgID, memberID))
}

func (s *PostgresStore) ListMembers(ctx context.Context, orgID string) ([]Member, error) {
	rows, err := s.db.QueryContext(ctx, memberSelect+` WHERE m.organization_id=$1 ORDER BY m.created_at`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()
	out := make([]Member, 0)
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertMember(ctx context.Context, m Member) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organization_members (id, organization_id, user_id, email, role, status, invited_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, m.ID, m.OrganizationID, nullString(m.UserID), m.Email, m.Role, m.Status, m.InvitedBy)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

// AcceptInvite binds the pending membership for email to userID and
// activates it.
func (s *PostgresStore) AcceptInvite(ctx context.Context, email, userID string) (Member, error) {
	var id, orgID string
	err := s.db.QueryRowContext(ctx, `
		UPDATE organization_members
		SET user_id=$2, status='active', updated_at=NOW()
		WHERE LOWER(email)=LOWER($1) AND status='pending'
		RETURNING id, organization_id
	`, email, userID).Scan(&id, &orgID)
	if isUniqueViolation(err) {
		return Member{}, ErrConflict
	}
	if err != nil {
		return Member{}, err
	}
	return s.GetMember(ctx, orgID, id)
}

func (s *PostgresStore) UpdateMember(ctx context.Context, orgID, memberID, role, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE organization_members SET role=$3, status=$4, updated_at=NOW()
		WHERE organization_id=$1 AND id=$2
	`, orgID, memberID, role, status)
	if err != nil {
		return fmt.Errorf("update member: %w", err)
	}
	return expectAffected(res)
}

// Clients

const clientColumns = `id, organization_id, email, full_name, company, password_hash, created_by, created_at`

func scanClient(row interface{ Scan(...any) error }) (Client, error) {
	var c Client
	err := row.Scan(&c.ID, &c.OrganizationID, &c.Email, &c.FullName, &c.Company, &c.PasswordHash, &c.CreatedBy, &c.CreatedAt)
	return c, err
}

func (s *PostgresStore) InsertClient(ctx context.Context, c Client) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (id, organization_id, email, full_name, company, password_hash, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.OrganizationID, c.Email, c.FullName, c.Company, c.PasswordHash, c.CreatedBy)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert client: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListClients(ctx context.Context, orgID string) ([]Client, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE organization_id=$1 ORDER BY company, email`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()
	out := make([]Client, 0)
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetClient(ctx context.Context, orgID, id string) (Client, error) {
	return scanClient(s.db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE organization_id=$1 AND id=$2`, orgID, id))
}

func (s *PostgresStore) GetClientByID(ctx context.Context, id string) (Client, error) {
	return scanClient(s.db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id=$1`, id))
}

func (s *PostgresStore) GetClientByEmail(ctx context.Context, email string) (Client, error) {
	return scanClient(s.db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE LOWER(email)=LOWER($1)`, email))
}

func (s *PostgresStore) DeleteClient(ctx context.Context, orgID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM clients WHERE organization_id=$1 AND id=$2`, orgID, id)
	if err != nil {
		return fmt.Errorf("delete client: %w", err)
	}
	return expectAffected(res)
}

// Integrations

const integrationColumns = `id, user_id, integration_type, monday_account_id, account_name, account_slug, monday_user_id, access_token, scopes, created_at, updated_at`

func scanIntegration(row interface{ Scan(...any) error }) (Integration, error) {
	var in Integration
	err := row.Scan(&in.ID, &in.UserID, &in.IntegrationType, &in.AccountID, &in.AccountName, &in.AccountSlug, &in.RemoteUserID, &in.AccessToken, &in.Scopes, &in.CreatedAt, &in.UpdatedAt)
	return in, err
}

// UpsertIntegration stores the integration keyed by user, type and remote
// account. A reconnect refreshes the token and account details.
func (s *PostgresStore) UpsertIntegration(ctx context.Context, in Integration) (Integration, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO user_integrations (id, user_id, integration_type, monday_account_id, account_name, account_slug, monday_user_id, access_token, scopes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, integration_type, monday_account_id) DO UPDATE SET
			account_name=EXCLUDED.account_name,
			account_slug=EXCLUDED.account_slug,
			monday_user_id=EXCLUDED.monday_user_id,
			access_token=EXCLUDED.access_token,
			scopes=EXCLUDED.scopes,
			updated_at=NOW()
		RETURNING `+integrationColumns,
		in.ID, in.UserID, in.IntegrationType, in.AccountID, in.AccountName, in.AccountSlug, in.RemoteUserID, in.AccessToken, in.Scopes)
	out, err := scanIntegration(row)
	if err != nil {
		return Integration{}, fmt.Errorf("upsert integration: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListIntegrations(ctx context.Context, userID string) ([]Integration, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+integrationColumns+` FROM user_integrations WHERE user_id=$1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list integrations: %w", err)
	}
	defer rows.Close()
	out := make([]Integration, 0)
	for rows.Next() {
		in, err := scanIntegration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan integration: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetIntegrationForAccount(ctx context.Context, userID, integrationType, accountID string) (Integration, error) {
	return scanIntegration(s.db.QueryRowContext(ctx, `
		SELECT `+integrationColumns+` FROM user_integrations
		WHERE user_id=$1 AND integration_type=$2 AND monday_account_id=$3
	`, userID, integrationType, accountID))
}

func (s *PostgresStore) DeleteIntegration(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM user_integrations WHERE user_id=$1 AND id=$2`, userID, id)
	if err != nil {
		return fmt.Errorf("delete integration: %w", err)
	}
	return expectAffected(res)
}

// Board configs

const boardConfigSelect = `
	SELECT bc.id, bc.organization_id, bc.monday_board_id, bc.monday_account_id, bc.board_name,
		bc.filter_column_id, bc.filter_column_title, bc.visible_columns, bc.created_by, bc.created_at, bc.updated_at,
		EXISTS (
			SELECT 1 FROM organizations o
			JOIN user_integrations ui ON ui.user_id = o.owner_id
			WHERE o.id = bc.organization_id
				AND ui.integration_type = 'monday'
				AND ui.monday_account_id = bc.monday_account_id
		) AS active
	FROM board_configs bc
`

func scanBoardConfig(row interface{ Scan(...any) error }) (BoardConfig, error) {
	var bc BoardConfig
	var columns []byte
	err := row.Scan(&bc.ID, &bc.OrganizationID, &bc.BoardID, &bc.AccountID, &bc.BoardName,
		&bc.FilterColumnID, &bc.FilterColumnTitle, &columns, &bc.CreatedBy, &bc.CreatedAt, &bc.UpdatedAt, &bc.Active)
	if err != nil {
		return BoardConfig{}, err
	}
	bc.VisibleColumns, err = unmarshalStrings(columns)
	if err != nil {
		return BoardConfig{}, fmt.Errorf("decode visible columns: %w", err)
	}
	return bc, nil
}

func (s *PostgresStore) ListBoardConfigs(ctx context.Context, orgID string) ([]BoardConfig, error) {
	rows, err := s.db.QueryContext(ctx, boardConfigSelect+` WHERE bc.organization_id=$1 ORDER BY bc.board_name, bc.created_at`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list board configs: %w", err)
	}
	defer rows.Close()
	out := make([]BoardConfig, 0)
	for rows.Next() {
		bc, err := scanBoardConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan board config: %w", err)
		}
		out = append(out, bc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetBoardConfig(ctx context.Context, orgID, id string) (BoardConfig, error) {
	return scanBoardConfig(s.db.QueryRowContext(ctx, boardConfigSelect+` WHERE bc.organization_id=$1 AND bc.id=$2`, orgID, id))
}

func (s *PostgresStore) GetBoardConfigByBoard(ctx context.Context, orgID, boardID string) (BoardConfig, error) {
	return scanBoardConfig(s.db.QueryRowContext(ctx, boardConfigSelect+` WHERE bc.organization_id=$1 AND bc.monday_board_id=$2`, orgID, boardID))
}

func (s *PostgresStore) InsertBoardConfig(ctx context.Context, bc BoardConfig) error {
	columns, err := marshalStrings(bc.VisibleColumns)
	if err != nil {
		return fmt.Errorf("encode visible columns: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO board_configs (id, organization_id, monday_board_id, monday_account_id, board_name, filter_column_id, filter_column_title, visible_columns, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9)
	`, bc.ID, bc.OrganizationID, bc.BoardID, bc.AccountID, bc.BoardName, bc.FilterColumnID, bc.FilterColumnTitle, columns, bc.CreatedBy)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert board config: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateBoardConfig(ctx context.Context, bc BoardConfig) error {
	columns, err := marshalStrings(bc.VisibleColumns)
	if err != nil {
		return fmt.Errorf("encode visible columns: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE board_configs
		SET board_name=$3, filter_column_id=$4, filter_column_title=$5, visible_columns=$6::jsonb, updated_at=NOW()
		WHERE organization_id=$1 AND id=$2
	`, bc.OrganizationID, bc.ID, bc.BoardName, bc.FilterColumnID, bc.FilterColumnTitle, columns)
	if err != nil {
		return fmt.Errorf("update board config: %w", err)
	}
	return expectAffected(res)
}

func (s *PostgresStore) DeleteBoardConfig(ctx context.Context, orgID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM board_configs WHERE organization_id=$1 AND id=$2`, orgID, id)
	if err != nil {
		return fmt.Errorf("delete board config: %w", err)
	}
	return expectAffected(res)
}

// Access mappings

func accessTable(principalType string) (table, column string, err error) {
	switch principalType {
	case PrincipalMember:
		return "member_board_access", "member_id", nil
	case PrincipalClient:
		return "client_board_access", "client_id", nil
	default:
		return "", "", fmt.Errorf("unknown principal type %q", principalType)
	}
}

// UpsertAccess sets the comma-separated filter value for a principal on a
// board config.
func (s *PostgresStore) UpsertAccess(ctx context.Context, principalType, principalID, boardConfigID, filterValue string) error {
	table, column, err := accessTable(principalType)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO `+table+` (`+column+`, board_config_id, filter_value)
		VALUES ($1, $2, $3)
		ON CONFLICT (`+column+`, board_config_id) DO UPDATE SET filter_value=EXCLUDED.filter_value, updated_at=NOW()
	`, principalID, boardConfigID, filterValue)
	if err != nil {
		return fmt.Errorf("upsert %s access: %w", principalType, err)
	}
	return nil
}

func (s *PostgresStore) DeleteAccess(ctx context.Context, principalType, principalID, boardConfigID string) error {
	table, column, err := accessTable(principalType)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE `+column+`=$1 AND board_config_id=$2`, principalID, boardConfigID)
	if err != nil {
		return fmt.Errorf("delete %s access: %w", principalType, err)
	}
	return expectAffected(res)
}

// ListBoardAccess returns every member and client mapping on a board config.
func (s *PostgresStore) ListBoardAccess(ctx context.Context, boardConfigID string) ([]AccessMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT 'member', member_id, board_config_id, filter_value, updated_at FROM member_board_access WHERE board_config_id=$1
		UNION ALL
		SELECT 'client', client_id, board_config_id, filter_value, updated_at FROM client_board_access WHERE board_config_id=$1
		ORDER BY 1, 2
	`, boardConfigID)
	if err != nil {
		return nil, fmt.Errorf("list board access: %w", err)
	}
	defer rows.Close()
	out := make([]AccessMapping, 0)
	for rows.Next() {
		var m AccessMapping
		if err := rows.Scan(&m.PrincipalType, &m.PrincipalID, &m.BoardConfigID, &m.FilterValue, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan board access: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListPrincipalAccess returns the principal's mappings keyed by board config
// id.
func (s *PostgresStore) ListPrincipalAccess(ctx context.Context, principalType, principalID string) (map[string]string, error) {
	table, column, err := accessTable(principalType)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT board_config_id, filter_value FROM `+table+` WHERE `+column+`=$1`, principalID)
	if err != nil {
		return nil, fmt.Errorf("list %s access: %w", principalType, err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var boardConfigID, value string
		if err := rows.Scan(&boardConfigID, &value); err != nil {
			return nil, fmt.Errorf("scan %s access: %w", principalType, err)
		}
		out[boardConfigID] = value
	}
	return out, rows.Err()
}

// Custom views

const viewColumns = `id, organization_id, name, slug, monday_board_id, COALESCE(board_config_id, ''), columns, settings, position, created_by, created_at, updated_at`

func scanView(row interface{ Scan(...any) error }) (CustomView, error) {
	var v CustomView
	var columns, settings []byte
	err := row.Scan(&v.ID, &v.OrganizationID, &v.Name, &v.Slug, &v.BoardID, &v.BoardConfigID, &columns, &settings, &v.Position, &v.CreatedBy, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return CustomView{}, err
	}
	v.Columns, err = unmarshalStrings(columns)
	if err != nil {
		return CustomView{}, fmt.Errorf("decode view columns: %w", err)
	}
	v.Settings = json.RawMessage(settings)
	return v, nil
}

func (s *PostgresStore) ListViews(ctx context.Context, orgID string) ([]CustomView, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+viewColumns+` FROM custom_board_views WHERE organization_id=$1 ORDER BY position, name`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list views: %w", err)
	}
	defer rows.Close()
	out := make([]CustomView, 0)
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, fmt.Errorf("scan view: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListViewSlugs(ctx context.Context, orgID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT slug FROM custom_board_views WHERE organization_id=$1`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list view slugs: %w", err)
	}
	defer rows.Close()
	out := make([]string, 0)
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, fmt.Errorf("scan view slug: %w", err)
		}
		out = append(out, slug)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetView(ctx context.Context, orgID, id string) (CustomView, error) {
	return scanView(s.db.QueryRowContext(ctx, `SELECT `+viewColumns+` FROM custom_board_views WHERE organization_id=$1 AND id=$2`, orgID, id))
}

func (s *PostgresStore) GetViewBySlug(ctx context.Context, orgID, slug string) (CustomView, error) {
	return scanView(s.db.QueryRowContext(ctx, `SELECT `+viewColumns+` FROM custom_board_views WHERE organization_id=$1 AND slug=$2`, orgID, slug))
}

func (s *PostgresStore) InsertView(ctx context.Context, v CustomView) error {
	columns, err := marshalStrings(v.Columns)
	if err != nil {
		return fmt.Errorf("encode view columns: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO custom_board_views (id, organization_id, name, slug, monday_board_id, board_config_id, columns, settings, position, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9, $10)
	`, v.ID, v.OrganizationID, v.Name, v.Slug, v.BoardID, nullString(v.BoardConfigID), columns, jsonOrDefault(v.Settings, "{}"), v.Position, v.CreatedBy)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert view: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateView(ctx context.Context, v CustomView) error {
	columns, err := marshalStrings(v.Columns)
	if err != nil {
		return fmt.Errorf("encode view columns: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE custom_board_views
		SET name=$3, slug=$4, columns=$5::jsonb, settings=$6::jsonb, position=$7, updated_at=NOW()
		WHERE organization_id=$1 AND id=$2
	`, v.OrganizationID, v.ID, v.Name, v.Slug, columns, jsonOrDefault(v.Settings, "{}"), v.Position)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("update view: %w", err)
	}
	return expectAffected(res)
}

func (s *PostgresStore) DeleteView(ctx context.Context, orgID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM custom_board_views WHERE organization_id=$1 AND id=$2`, orgID, id)
	if err != nil {
		return fmt.Errorf("delete view: %w", err)
	}
	return expectAffected(res)
}

// Workflow templates

const templateColumns = `id, key, name, description, category, action_kind, action_config, input_schema, is_active, created_at`

func scanTemplate(row interface{ Scan(...any) error }) (WorkflowTemplate, error) {
	var t WorkflowTemplate
	var config, schema []byte
	err := row.Scan(&t.ID, &t.Key, &t.Name, &t.Description, &t.Category, &t.ActionKind, &config, &schema, &t.IsActive, &t.CreatedAt)
	if err != nil {
		return WorkflowTemplate{}, err
	}
	t.ActionConfig = json.RawMessage(config)
	t.InputSchema = json.RawMessage(schema)
	return t, nil
}

// UpsertTemplate seeds or refreshes a catalog template by key.
func (s *PostgresStore) UpsertTemplate(ctx context.Context, t WorkflowTemplate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_templates (id, key, name, description, category, action_kind, action_config, input_schema, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9)
		ON CONFLICT (key) DO UPDATE SET
			name=EXCLUDED.name,
			description=EXCLUDED.description,
			category=EXCLUDED.category,
			action_kind=EXCLUDED.action_kind,
			action_config=EXCLUDED.action_config,
			input_schema=EXCLUDED.input_schema,
			is_active=EXCLUDED.is_active
	`, t.ID, t.Key, t.Name, t.Description, t.Category, t.ActionKind, jsonOrDefault(t.ActionConfig, "{}"), jsonOrDefault(t.InputSchema, "{}"), t.IsActive)
	if err != nil {
		return fmt.Errorf("upsert workflow template: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListTemplates(ctx context.Context) ([]WorkflowTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+templateColumns+` FROM workflow_templates WHERE is_active ORDER BY category, name`)
	if err != nil {
		return nil, fmt.Errorf("list workflow templates: %w", err)
	}
	defer rows.Close()
	out := make([]WorkflowTemplate, 0)
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetTemplate(ctx context.Context, id string) (WorkflowTemplate, error) {
	return scanTemplate(s.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM workflow_templates WHERE id=$1 OR key=$1`, id))
}

// Workflow executions

const executionColumns = `id, organization_id, template_id, triggered_by, status, input, output, error_message, started_at, completed_at, duration_ms, created_at`

func scanExecution(row interface{ Scan(...any) error }) (WorkflowExecution, error) {
	var e WorkflowExecution
	var input, output []byte
	var started, completed sql.NullTime
	var duration sql.NullInt64
	err := row.Scan(&e.ID, &e.OrganizationID, &e.TemplateID, &e.TriggeredBy, &e.Status, &input, &output, &e.ErrorMessage, &started, &completed, &duration, &e.CreatedAt)
	if err != nil {
		return WorkflowExecution{}, err
	}
	e.Input = json.RawMessage(input)
	if len(output) > 0 {
		e.Output = json.RawMessage(output)
	}
	if started.Valid {
		e.StartedAt = &started.Time
	}
	if completed.Valid {
		e.CompletedAt = &completed.Time
	}
	if duration.Valid {
		e.DurationMS = &duration.Int64
	}
	return e, nil
}

func (s *PostgresStore) InsertExecution(ctx context.Context, e WorkflowExecution) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_executions (id, organization_id, template_id, triggered_by, status, input)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
	`, e.ID, e.OrganizationID, e.TemplateID, e.TriggeredBy, e.Status, jsonOrDefault(e.Input, "{}"))
	if err != nil {
		return fmt.Errorf("insert workflow execution: %w", err)
	}
	return nil
}

// TransitionExecution moves an execution from one status to another. It
// returns ErrTransitionRejected when the row is not currently in from.
func (s *PostgresStore) TransitionExecution(ctx context.Context, id, from, to string, update ExecutionUpdate) (WorkflowExecution, error) {
	var output any
	if len(update.Output) > 0 {
		output = string(update.Output)
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE workflow_executions
		SET status=$3,
			output=COALESCE($4::jsonb, output),
			error_message=CASE WHEN $5 = '' THEN error_message ELSE $5 END,
			started_at=COALESCE($6, started_at),
			completed_at=COALESCE($7, completed_at),
			duration_ms=COALESCE($8, duration_ms)
		WHERE id=$1 AND status=$2
		RETURNING `+executionColumns,
		id, from, to, output, update.ErrorMessage, update.StartedAt, update.CompletedAt, update.DurationMS)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return WorkflowExecution{}, ErrTransitionRejected
	}
	if err != nil {
		return WorkflowExecution{}, fmt.Errorf("transition workflow execution: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) ListExecutions(ctx context.Context, orgID string, limit int) ([]WorkflowExecution, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+executionColumns+` FROM workflow_executions
		WHERE organization_id=$1
		ORDER BY created_at DESC
		LIMIT $2
	`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("list workflow executions: %w", err)
	}
	defer rows.Close()
	out := make([]WorkflowExecution, 0)
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow execution: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetExecution(ctx context.Context, orgID, id string) (WorkflowExecution, error) {
	return scanExecution(s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM workflow_executions WHERE organization_id=$1 AND id=$2`, orgID, id))
}

// FailStaleExecutions fails every execution still running since before
// cutoff and reports how many were touched. Executions left pending since
// before cutoff are moved through running first so the transition guard
// accepts the terminal update.
func (s *PostgresStore) FailStaleExecutions(ctx context.Context, cutoff time.Time, message string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin stale sweep: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE workflow_executions
		SET status='running', started_at=created_at
		WHERE status='pending' AND created_at < $1
	`, cutoff); err != nil {
		return 0, fmt.Errorf("start stale pending executions: %w", err)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE workflow_executions
		SET status='failed',
			error_message=$2,
			completed_at=NOW(),
			duration_ms=(EXTRACT(EPOCH FROM (NOW() - started_at)) * 1000)::BIGINT
		WHERE status='running' AND started_at < $1
	`, cutoff, message)
	if err != nil {
		return 0, fmt.Errorf("fail stale executions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale executions affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit stale sweep: %w", err)
	}
	return n, nil
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
