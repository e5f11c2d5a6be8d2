package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const postColumns = `id, agent_id, title, slug, content_md, content_html, status, published_at, created_at, updated_at`

func (s *SQLStore) CreatePost(ctx context.Context, post *Post) error {
	if post.ID == "" {
		post.ID = uuid.New().String()
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = now()
	}
	if post.UpdatedAt.IsZero() {
		post.UpdatedAt = post.CreatedAt
	}

	_, err := s.exec(ctx, `
		INSERT INTO posts (`+postColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, post.ID, post.AgentID, post.Title, post.Slug, post.ContentMD, post.ContentHTML,
		string(post.Status), nullTime(post.PublishedAt), post.CreatedAt, post.UpdatedAt)
	return err
}

// UpdatePost writes the mutable fields of an existing post.
func (s *SQLStore) UpdatePost(ctx context.Context, post *Post) error {
	if post.UpdatedAt.IsZero() {
		post.UpdatedAt = now()
	}

	res, err := s.exec(ctx, `
		UPDATE posts
		SET title = ?, content_md = ?, content_html = ?, status = ?, published_at = ?, updated_at = ?
		WHERE id = ?
	`, post.Title, post.ContentMD, post.ContentHTML, string(post.Status),
		nullTime(post.PublishedAt), post.UpdatedAt, post.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLStore) GetPost(ctx context.Context, id string) (*Post, error) {
	row := s.queryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ?`, id)
	post, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return post, err
}

func (s *SQLStore) GetPostBySlug(ctx context.Context, agentID, slug string) (*Post, error) {
	row := s.queryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE agent_id = ? AND slug = ?`, agentID, slug)
	post, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return post, err
}

// ListAgentPosts returns every post of one agent, newest first. An empty
// status means all statuses.
func (s *SQLStore) ListAgentPosts(ctx context.Context, agentID string, status PostStatus) ([]*Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE agent_id = ?`
	args := []any{agentID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []*Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// ListPublishedPosts returns one page of published posts with author and
// engagement counts, plus the size of the whole filtered set.
func (s *SQLStore) ListPublishedPosts(ctx context.Context, filter PostFilter) ([]*PostSummary, int, error) {
	where := []string{"p.status = ?"}
	args := []any{string(StatusPublished)}
	if filter.AgentSlug != "" {
		where = append(where, "a.slug = ?")
		args = append(args, filter.AgentSlug)
	}
	if filter.Since != nil {
		where = append(where, "p.published_at >= ?")
		args = append(args, filter.Since.UTC())
	}
	whereSQL := strings.Join(where, " AND ")

	var total int
	if err := s.queryRow(ctx, `
		SELECT COUNT(*) FROM posts p JOIN agents a ON a.id = p.agent_id WHERE `+whereSQL,
		args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	var orderBy string
	switch filter.Sort {
	case SortOldest:
		orderBy = "p.published_at ASC"
	case SortTop:
		orderBy = "score DESC, p.published_at DESC"
	default: // SortNewest
		orderBy = "p.published_at DESC"
	}

	query := fmt.Sprintf(`
		SELECT p.id, p.agent_id, p.title, p.slug, p.content_md, p.content_html, p.status,
			p.published_at, p.created_at, p.updated_at,
			a.name, a.slug,
			(SELECT COUNT(*) FROM comments c WHERE c.post_id = p.id),
			(SELECT COUNT(*) FROM post_votes v WHERE v.post_id = p.id AND v.vote = 1),
			(SELECT COUNT(*) FROM post_votes v WHERE v.post_id = p.id AND v.vote = -1),
			(SELECT COALESCE(SUM(v.vote), 0) FROM post_votes v WHERE v.post_id = p.id) AS score
		FROM posts p
		JOIN agents a ON a.id = p.agent_id
		WHERE %s
		ORDER BY %s
		LIMIT ? OFFSET ?
	`, whereSQL, orderBy)

	rows, err := s.query(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var posts []*PostSummary
	for rows.Next() {
		var p PostSummary
		var status string
		var publishedAt sql.NullTime
		var score int
		if err := rows.Scan(&p.ID, &p.AgentID, &p.Title, &p.Slug, &p.ContentMD, &p.ContentHTML,
			&status, &publishedAt, &p.CreatedAt, &p.UpdatedAt, &p.AgentName, &p.AgentSlug,
			&p.CommentCount, &p.Upvotes, &p.Downvotes, &score); err != nil {
			return nil, 0, err
		}
		p.Status = PostStatus(status)
		p.PublishedAt = timePtr(publishedAt)
		p.CreatedAt = p.CreatedAt.UTC()
		p.UpdatedAt = p.UpdatedAt.UTC()
		posts = append(posts, &p)
	}
	return posts, total, rows.Err()
}

func (s *SQLStore) DeletePost(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM posts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func scanPost(row scanner) (*Post, error) {
	var post Post
	var status string
	var publishedAt sql.NullTime
	err := row.Scan(&post.ID, &post.AgentID, &post.Title, &post.Slug, &post.ContentMD,
		&post.ContentHTML, &status, &publishedAt, &post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		return nil, err
	}
	post.Status = PostStatus(status)
	post.PublishedAt = timePtr(publishedAt)
	post.CreatedAt = post.CreatedAt.UTC()
	post.UpdatedAt = post.UpdatedAt.UTC()
	return &post, nil
}
