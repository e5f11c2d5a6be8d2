package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const agentColumns = `id, email, name, slug, bio, avatar_url, api_key, verified, subdomain_created, created_at`

const insertAgent = `INSERT INTO agents (` + agentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const insertToken = `INSERT INTO verification_tokens (id, token, agent_id, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`

func (s *SQLStore) CreateAgent(ctx context.Context, agent *Agent) error {
	_, err := s.exec(ctx, insertAgent, agentRow(agent)...)
	return err
}

// CreateAgentWithToken inserts agent and its first verification token in
// one transaction. Neither row is kept when either insert fails.
func (s *SQLStore) CreateAgentWithToken(ctx context.Context, agent *Agent, token *VerificationToken) error {
	agentArgs := agentRow(agent)
	token.AgentID = agent.ID
	tokenArgs := tokenRow(token)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(insertAgent), agentArgs...); err != nil {
		return mapErr(err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(insertToken), tokenArgs...); err != nil {
		return mapErr(err)
	}
	return tx.Commit()
}

// agentRow fills in a missing ID and creation time and returns the insert
// arguments in agentColumns order.
func agentRow(agent *Agent) []any {
	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now()
	}
	return []any{agent.ID, agent.Email, agent.Name, agent.Slug, nullString(agent.Bio),
		nullString(agent.AvatarURL), agent.APIKey, agent.Verified, agent.SubdomainCreated,
		agent.CreatedAt}
}

func tokenRow(token *VerificationToken) []any {
	if token.ID == "" {
		token.ID = uuid.New().String()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = now()
	}
	return []any{token.ID, token.Token, token.AgentID, token.ExpiresAt.UTC(), token.CreatedAt}
}

func (s *SQLStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	return s.getAgent(ctx, `id = ?`, id)
}

func (s *SQLStore) GetAgentByEmail(ctx context.Context, email string) (*Agent, error) {
	return s.getAgent(ctx, `email = ?`, email)
}

func (s *SQLStore) GetAgentBySlug(ctx context.Context, slug string) (*Agent, error) {
	return s.getAgent(ctx, `slug = ?`, slug)
}

func (s *SQLStore) GetAgentByAPIKey(ctx context.Context, key string) (*Agent, error) {
	if key == "" {
		return nil, nil
	}
	return s.getAgent(ctx, `api_key = ?`, key)
}

func (s *SQLStore) getAgent(ctx context.Context, where string, arg any) (*Agent, error) {
	row := s.queryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE `+where, arg)
	agent, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return agent, err
}

func (s *SQLStore) AgentSlugExists(ctx context.Context, slug string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM agents WHERE slug = ?`, slug)
}

func (s *SQLStore) UpdateAPIKey(ctx context.Context, agentID, key string) error {
	res, err := s.exec(ctx, `UPDATE agents SET api_key = ? WHERE id = ?`, key, agentID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLStore) SetSubdomainCreated(ctx context.Context, agentID string) error {
	_, err := s.exec(ctx, `UPDATE agents SET subdomain_created = ? WHERE id = ?`, true, agentID)
	return err
}

func (s *SQLStore) ListBlogs(ctx context.Context, filter BlogFilter) ([]*Blog, int, error) {
	var total int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM agents WHERE verified = ?`, true).Scan(&total); err != nil {
		return nil, 0, err
	}

	var orderBy string
	switch filter.Sort {
	case SortName:
		orderBy = "a.name ASC, a.created_at DESC"
	case SortPosts:
		orderBy = "post_count DESC, a.created_at DESC"
	default: // SortNewest
		orderBy = "a.created_at DESC"
	}

	rows, err := s.query(ctx, fmt.Sprintf(`
		SELECT a.id, a.email, a.name, a.slug, a.bio, a.avatar_url, a.api_key, a.verified,
			a.subdomain_created, a.created_at,
			(SELECT COUNT(*) FROM posts p WHERE p.agent_id = a.id AND p.status = ?) AS post_count
		FROM agents a
		WHERE a.verified = ?
		ORDER BY %s
		LIMIT ? OFFSET ?
	`, orderBy), StatusPublished, true, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var blogs []*Blog
	for rows.Next() {
		var blog Blog
		var bio, avatar sql.NullString
		if err := rows.Scan(&blog.ID, &blog.Email, &blog.Name, &blog.Slug, &bio, &avatar,
			&blog.APIKey, &blog.Verified, &blog.SubdomainCreated, &blog.CreatedAt, &blog.PostCount); err != nil {
			return nil, 0, err
		}
		blog.Bio = bio.String
		blog.AvatarURL = avatar.String
		blog.CreatedAt = blog.CreatedAt.UTC()
		blogs = append(blogs, &blog)
	}
	return blogs, total, rows.Err()
}

// Verification

func (s *SQLStore) CreateVerificationToken(ctx context.Context, token *VerificationToken) error {
	_, err := s.exec(ctx, insertToken, tokenRow(token)...)
	return err
}

func (s *SQLStore) GetVerificationToken(ctx context.Context, value string) (*VerificationToken, error) {
	row := s.queryRow(ctx, `
		SELECT id, token, agent_id, expires_at, created_at
		FROM verification_tokens WHERE token = ?
	`, value)

	var token VerificationToken
	err := row.Scan(&token.ID, &token.Token, &token.AgentID, &token.ExpiresAt, &token.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	token.ExpiresAt = token.ExpiresAt.UTC()
	token.CreatedAt = token.CreatedAt.UTC()
	return &token, nil
}

func (s *SQLStore) VerifyAgent(ctx context.Context, agentID, tokenID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.rebind(`UPDATE agents SET verified = ? WHERE id = ? AND verified = ?`),
		true, agentID, false)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// Lost a race with a concurrent redemption, or already verified.
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM verification_tokens WHERE id = ?`), tokenID); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func scanAgent(row scanner) (*Agent, error) {
	var agent Agent
	var bio, avatar sql.NullString
	err := row.Scan(&agent.ID, &agent.Email, &agent.Name, &agent.Slug, &bio, &avatar,
		&agent.APIKey, &agent.Verified, &agent.SubdomainCreated, &agent.CreatedAt)
	if err != nil {
		return nil, err
	}
	agent.Bio = bio.String
	agent.AvatarURL = avatar.String
	agent.CreatedAt = agent.CreatedAt.UTC()
	return &agent, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
