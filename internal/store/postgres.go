package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
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

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash)
		VALUES ($1, $2, LOWER($3), $4)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, created_at
		FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, created_at
		FROM users WHERE email=LOWER($1)
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) ListUserEmails(ctx context.Context, userIDs []string) (map[string]string, error) {
	emails := make(map[string]string, len(userIDs))
	if len(userIDs) == 0 {
		return emails, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email FROM users WHERE id = ANY($1)
	`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("list user emails: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, email string
		if err := rows.Scan(&id, &email); err != nil {
			return nil, fmt.Errorf("scan user email: %w", err)
		}
		emails[id] = email
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user emails: %w", err)
	}
	return emails, nil
}

func (s *PostgresStore) CreateSpace(ctx context.Context, space Space) error {
	tier := space.Tier
	if tier == "" {
		tier = "free"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO spaces (id, name, tier)
		VALUES ($1, $2, $3)
	`, space.ID, space.Name, tier)
	if err != nil {
		return fmt.Errorf("create space: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSpace(ctx context.Context, spaceID string) (Space, error) {
	var space Space
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, tier, created_at FROM spaces WHERE id=$1
	`, spaceID).Scan(&space.ID, &space.Name, &space.Tier, &space.CreatedAt)
	if err != nil {
		return Space{}, err
	}
	return space, nil
}

func (s *PostgresStore) GetSpaceTier(ctx context.Context, spaceID string) (string, error) {
	var tier string
	err := s.db.QueryRowContext(ctx, `SELECT tier FROM spaces WHERE id=$1`, spaceID).Scan(&tier)
	if err != nil {
		return "", fmt.Errorf("get space tier: %w", err)
	}
	return tier, nil
}

func (s *PostgresStore) AddSpaceMember(ctx context.Context, spaceID, userID string, isAdmin bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO space_memberships (space_id, user_id, is_admin)
		VALUES ($1, $2, $3)
		ON CONFLICT (space_id, user_id) DO UPDATE SET is_admin=EXCLUDED.is_admin
	`, spaceID, userID, isAdmin)
	if err != nil {
		return fmt.Errorf("add space member: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMembership(ctx context.Context, spaceID, userID string) (SpaceMembership, error) {
	var m SpaceMembership
	err := s.db.QueryRowContext(ctx, `
		SELECT space_id, user_id, is_admin, created_at
		FROM space_memberships WHERE space_id=$1 AND user_id=$2
	`, spaceID, userID).Scan(&m.SpaceID, &m.UserID, &m.IsAdmin, &m.CreatedAt)
	if err != nil {
		return SpaceMembership{}, err
	}
	return m, nil
}

func (s *PostgresStore) IsSpaceMember(ctx context.Context, spaceID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM space_memberships WHERE space_id=$1 AND user_id=$2)
	`, spaceID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ListSpaceMemberIDs(ctx context.Context, spaceID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM space_memberships WHERE space_id=$1 ORDER BY user_id
	`, spaceID)
	if err != nil {
		return nil, fmt.Errorf("list space members: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate space members: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) CreateRole(ctx context.Context, role Role) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO space_roles (id, space_id, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name
	`, role.ID, role.SpaceID, role.Name)
	if err != nil {
		return fmt.Errorf("create role: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddRoleMember(ctx context.Context, roleID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO space_role_members (role_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, roleID, userID)
	if err != nil {
		return fmt.Errorf("add role member: %w", err)
	}
	return nil
}

// ListRoleMembers returns roleID -> member user ids for every role in the
// space. Roles with no members still get an entry so reviewer resolution
// treats them as empty rather than unknown.
func (s *PostgresStore) ListRoleMembers(ctx context.Context, spaceID string) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, COALESCE(m.user_id, '')
		FROM space_roles r
		LEFT JOIN space_role_members m ON m.role_id = r.id
		WHERE r.space_id=$1
		ORDER BY r.id, m.user_id
	`, spaceID)
	if err != nil {
		return nil, fmt.Errorf("list role members: %w", err)
	}
	defer rows.Close()

	members := make(map[string][]string)
	for rows.Next() {
		var roleID, userID string
		if err := rows.Scan(&roleID, &userID); err != nil {
			return nil, fmt.Errorf("scan role member: %w", err)
		}
		if _, ok := members[roleID]; !ok {
			members[roleID] = []string{}
		}
		if userID != "" {
			members[roleID] = append(members[roleID], userID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate role members: %w", err)
	}
	return members, nil
}

func (s *PostgresStore) CreateProposal(ctx context.Context, proposal Proposal, authorIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create proposal: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO proposals (id, space_id, workflow_id, title, content, status, is_template, created_by)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)
	`, proposal.ID, proposal.SpaceID, proposal.WorkflowID, proposal.Title, proposal.Content, proposal.Status, proposal.IsTemplate, proposal.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert proposal: %w", err)
	}

	if len(authorIDs) == 0 {
		authorIDs = []string{proposal.CreatedBy}
	}
	for _, authorID := range authorIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO proposal_authors (proposal_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, proposal.ID, authorID); err != nil {
			return fmt.Errorf("insert proposal author: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create proposal: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProposal(ctx context.Context, proposalID string) (Proposal, error) {
	var item Proposal
	err := s.db.QueryRowContext(ctx, `
		SELECT id, space_id, COALESCE(workflow_id, ''), title, content, status, is_template, archived, page_deleted, created_by, created_at, updated_at
		FROM proposals WHERE id=$1
	`, proposalID).Scan(
		&item.ID,
		&item.SpaceID,
		&item.WorkflowID,
		&item.Title,
		&item.Content,
		&item.Status,
		&item.IsTemplate,
		&item.Archived,
		&item.PageDeleted,
		&item.CreatedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Proposal{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListProposals(ctx context.Context, spaceID string, includeTemplates bool) ([]Proposal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, space_id, COALESCE(workflow_id, ''), title, content, status, is_template, archived, page_deleted, created_by, created_at, updated_at
		FROM proposals
		WHERE space_id=$1
		  AND NOT page_deleted
		  AND ($2::boolean OR NOT is_template)
		ORDER BY created_at DESC
	`, spaceID, includeTemplates)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	items := make([]Proposal, 0)
	for rows.Next() {
		var item Proposal
		if err := rows.Scan(
			&item.ID,
			&item.SpaceID,
			&item.WorkflowID,
			&item.Title,
			&item.Content,
			&item.Status,
			&item.IsTemplate,
			&item.Archived,
			&item.PageDeleted,
			&item.CreatedBy,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposals: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateProposalStatus(ctx context.Context, proposalID, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE proposals SET status=$2, updated_at=NOW() WHERE id=$1
	`, proposalID, status)
	if err != nil {
		return fmt.Errorf("update proposal status: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateProposalContent(ctx context.Context, proposalID, title, content string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE proposals SET title=$2, content=$3, updated_at=NOW() WHERE id=$1
	`, proposalID, title, content)
	if err != nil {
		return fmt.Errorf("update proposal content: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetProposalArchived(ctx context.Context, proposalID string, archived bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE proposals SET archived=$2, updated_at=NOW() WHERE id=$1
	`, proposalID, archived)
	if err != nil {
		return fmt.Errorf("set proposal archived: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkProposalDeleted(ctx context.Context, proposalID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE proposals SET page_deleted=TRUE, updated_at=NOW() WHERE id=$1
	`, proposalID)
	if err != nil {
		return fmt.Errorf("mark proposal deleted: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListProposalAuthors(ctx context.Context, proposalID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM proposal_authors WHERE proposal_id=$1 ORDER BY user_id
	`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list proposal authors: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan author id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proposal authors: %w", err)
	}
	return ids, nil
}

// IsNotFound reports whether err is the driver's no-rows sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
