package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/AgentMesh/internal/domain"
	"github.com/Strob0t/AgentMesh/internal/domain/project"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Projects ---

const projectCols = `id, name, description, tags, owner, config, status,
	session_count, message_count, protocol_count, last_activity, created_at, updated_at`

func (s *Store) ListProjects(ctx context.Context) ([]project.Project, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+projectCols+` FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []project.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *Store) GetProject(ctx context.Context, id string) (*project.Project, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+projectCols+` FROM projects WHERE id = $1`, id)

	p, err := scanProject(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get project %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get project %s: %w", id, err)
	}

	if err := s.loadProjectCredentials(ctx, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProject persists the project with its keys and permissions in one
// transaction, so a failed mint leaves no partial state.
func (s *Store) CreateProject(ctx context.Context, p *project.Project) error {
	configJSON, err := json.Marshal(p.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO projects (id, name, description, tags, owner, config, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		p.ID, p.Metadata.Name, p.Metadata.Description, p.Metadata.Tags, p.Metadata.Owner,
		configJSON, p.Status, p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create project %s: %w", p.ID, domain.ErrDuplicate)
		}
		return fmt.Errorf("create project %s: %w", p.ID, err)
	}

	for i := range p.APIKeys {
		if err := insertAPIKey(ctx, tx, p.ID, &p.APIKeys[i]); err != nil {
			return err
		}
	}
	for i := range p.Permissions {
		if err := insertPermission(ctx, tx, p.ID, &p.Permissions[i]); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// UpdateProject replaces the project row plus its keys and permissions.
func (s *Store) UpdateProject(ctx context.Context, p *project.Project) error {
	configJSON, err := json.Marshal(p.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE projects SET name = $2, description = $3, tags = $4, owner = $5, config = $6,
		     status = $7, session_count = $8, message_count = $9, protocol_count = $10,
		     last_activity = $11, updated_at = now()
		 WHERE id = $1`,
		p.ID, p.Metadata.Name, p.Metadata.Description, p.Metadata.Tags, p.Metadata.Owner,
		configJSON, p.Status, p.Statistics.SessionCount, p.Statistics.MessageCount,
		p.Statistics.ProtocolCount, nullTime(p.Statistics.LastActivity))
	if err != nil {
		return fmt.Errorf("update project %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update project %s: %w", p.ID, domain.ErrNotFound)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM project_api_keys WHERE project_id = $1`, p.ID); err != nil {
		return fmt.Errorf("replace api keys: %w", err)
	}
	for i := range p.APIKeys {
		if err := insertAPIKey(ctx, tx, p.ID, &p.APIKeys[i]); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM cross_project_permissions WHERE project_id = $1`, p.ID); err != nil {
		return fmt.Errorf("replace permissions: %w", err)
	}
	for i := range p.Permissions {
		if err := insertPermission(ctx, tx, p.ID, &p.Permissions[i]); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *Store) DeleteProject(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete project %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete project %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) loadProjectCredentials(ctx context.Context, p *project.Project) error {
	rows, err := s.pool.Query(ctx,
		`SELECT key_id, key_hash, created_at, expires_at, is_active
		 FROM project_api_keys WHERE project_id = $1 ORDER BY created_at`, p.ID)
	if err != nil {
		return fmt.Errorf("load api keys: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k project.APIKey
		if err := rows.Scan(&k.KeyID, &k.Hash, &k.CreatedAt, &k.ExpiresAt, &k.IsActive); err != nil {
			return fmt.Errorf("scan api key: %w", err)
		}
		p.APIKeys = append(p.APIKeys, k)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	permRows, err := s.pool.Query(ctx,
		`SELECT target_project_id, allowed_protocols, message_rate_limit
		 FROM cross_project_permissions WHERE project_id = $1`, p.ID)
	if err != nil {
		return fmt.Errorf("load permissions: %w", err)
	}
	defer permRows.Close()
	for permRows.Next() {
		var perm project.CrossProjectPermission
		if err := permRows.Scan(&perm.TargetProjectID, &perm.AllowedProtocols, &perm.MessageRateLimit); err != nil {
			return fmt.Errorf("scan permission: %w", err)
		}
		p.Permissions = append(p.Permissions, perm)
	}
	return permRows.Err()
}

func insertAPIKey(ctx context.Context, tx pgx.Tx, projectID string, k *project.APIKey) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO project_api_keys (project_id, key_id, key_hash, created_at, expires_at, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		projectID, k.KeyID, k.Hash, k.CreatedAt, k.ExpiresAt, k.IsActive)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

func insertPermission(ctx context.Context, tx pgx.Tx, projectID string, perm *project.CrossProjectPermission) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO cross_project_permissions (project_id, target_project_id, allowed_protocols, message_rate_limit)
		 VALUES ($1, $2, $3, $4)`,
		projectID, perm.TargetProjectID, perm.AllowedProtocols, perm.MessageRateLimit)
	if err != nil {
		return fmt.Errorf("insert permission: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (project.Project, error) {
	var (
		p            project.Project
		configJSON   []byte
		lastActivity *time.Time
	)
	err := row.Scan(&p.ID, &p.Metadata.Name, &p.Metadata.Description, &p.Metadata.Tags,
		&p.Metadata.Owner, &configJSON, &p.Status, &p.Statistics.SessionCount,
		&p.Statistics.MessageCount, &p.Statistics.ProtocolCount, &lastActivity,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return project.Project{}, err
	}
	if err := json.Unmarshal(configJSON, &p.Config); err != nil {
		return project.Project{}, fmt.Errorf("unmarshal project config: %w", err)
	}
	if lastActivity != nil {
		p.Statistics.LastActivity = *lastActivity
	}
	return p, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// isUniqueViolation reports whether err is a 23505 unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
