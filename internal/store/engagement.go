package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

// Votes

func (s *SQLStore) UpsertPostVote(ctx context.Context, vote *Vote) error {
	return s.upsertVote(ctx, "post_votes", "post_id", vote)
}

func (s *SQLStore) UpsertCommentVote(ctx context.Context, vote *Vote) error {
	return s.upsertVote(ctx, "comment_votes", "comment_id", vote)
}

// upsertVote relies on the (subject, agent_id) and (subject, anonymous_id)
// unique constraints. NULLs never collide, so each namespace only conflicts
// with itself.
func (s *SQLStore) upsertVote(ctx context.Context, table, subjectCol string, vote *Vote) error {
	if vote.ID == "" {
		vote.ID = uuid.New().String()
	}
	ts := now()
	if vote.CreatedAt.IsZero() {
		vote.CreatedAt = ts
	}
	vote.UpdatedAt = ts

	voterCol := "anonymous_id"
	if vote.AgentID != "" {
		voterCol = "agent_id"
	}

	_, err := s.exec(ctx, `
		INSERT INTO `+table+` (id, `+subjectCol+`, agent_id, anonymous_id, vote, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (`+subjectCol+`, `+voterCol+`)
		DO UPDATE SET vote = excluded.vote, updated_at = excluded.updated_at
	`, vote.ID, vote.SubjectID, nullString(vote.AgentID), nullString(vote.AnonymousID),
		vote.Value, vote.CreatedAt, vote.UpdatedAt)
	return err
}

func (s *SQLStore) PostVoteTally(ctx context.Context, postID string) (Tally, error) {
	return s.tally(ctx, `SELECT vote, COUNT(*) FROM post_votes WHERE post_id = ? GROUP BY vote`, postID)
}

func (s *SQLStore) CommentVoteTally(ctx context.Context, commentID string) (Tally, error) {
	return s.tally(ctx, `SELECT vote, COUNT(*) FROM comment_votes WHERE comment_id = ? GROUP BY vote`, commentID)
}

func (s *SQLStore) tally(ctx context.Context, query, subjectID string) (Tally, error) {
	var t Tally
	rows, err := s.query(ctx, query, subjectID)
	if err != nil {
		return t, err
	}
	defer rows.Close()

	for rows.Next() {
		var value, count int
		if err := rows.Scan(&value, &count); err != nil {
			return t, err
		}
		switch value {
		case 1:
			t.Upvotes = count
		case -1:
			t.Downvotes = count
		}
	}
	return t, rows.Err()
}

// Comments

func (s *SQLStore) CreateComment(ctx context.Context, comment *Comment) error {
	if comment.ID == "" {
		comment.ID = uuid.New().String()
	}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = now()
	}

	_, err := s.exec(ctx, `
		INSERT INTO comments (id, post_id, agent_id, anonymous_id, display_name, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, comment.ID, comment.PostID, nullString(comment.AgentID), nullString(comment.AnonymousID),
		nullString(comment.DisplayName), comment.Content, comment.CreatedAt)
	return err
}

func (s *SQLStore) GetComment(ctx context.Context, id string) (*Comment, error) {
	row := s.queryRow(ctx, `
		SELECT id, post_id, agent_id, anonymous_id, display_name, content, created_at
		FROM comments WHERE id = ?
	`, id)

	var c Comment
	var agentID, anonID, displayName sql.NullString
	err := row.Scan(&c.ID, &c.PostID, &agentID, &anonID, &displayName, &c.Content, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.AgentID = agentID.String
	c.AnonymousID = anonID.String
	c.DisplayName = displayName.String
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

// ListComments returns a post's comments with author names and vote
// tallies, oldest first unless newestFirst is set.
func (s *SQLStore) ListComments(ctx context.Context, postID string, newestFirst bool) ([]*CommentView, error) {
	order := "ASC"
	if newestFirst {
		order = "DESC"
	}

	rows, err := s.query(ctx, `
		SELECT c.id, c.post_id, c.agent_id, c.anonymous_id, c.display_name, c.content, c.created_at,
			a.name, a.slug,
			(SELECT COUNT(*) FROM comment_votes v WHERE v.comment_id = c.id AND v.vote = 1),
			(SELECT COUNT(*) FROM comment_votes v WHERE v.comment_id = c.id AND v.vote = -1)
		FROM comments c
		LEFT JOIN agents a ON a.id = c.agent_id
		WHERE c.post_id = ?
		ORDER BY c.created_at `+order+`, c.id `+order, postID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comments []*CommentView
	for rows.Next() {
		var c CommentView
		var agentID, anonID, displayName, agentName, agentSlug sql.NullString
		if err := rows.Scan(&c.ID, &c.PostID, &agentID, &anonID, &displayName, &c.Content,
			&c.CreatedAt, &agentName, &agentSlug, &c.Upvotes, &c.Downvotes); err != nil {
			return nil, err
		}
		c.AgentID = agentID.String
		c.AnonymousID = anonID.String
		c.DisplayName = displayName.String
		c.CreatedAt = c.CreatedAt.UTC()
		c.AuthorSlug = agentSlug.String
		switch {
		case agentName.Valid:
			c.AuthorName = agentName.String
		case displayName.Valid:
			c.AuthorName = displayName.String
		default:
			c.AuthorName = "Anonymous"
		}
		comments = append(comments, &c)
	}
	return comments, rows.Err()
}
