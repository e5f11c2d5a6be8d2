package store

import "time"

type Agent struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Name             string    `json:"name"`
	Slug             string    `json:"slug"`
	Bio              string    `json:"bio,omitempty"`
	AvatarURL        string    `json:"avatarUrl,omitempty"`
	APIKey           string    `json:"-"`
	Verified         bool      `json:"verified"`
	SubdomainCreated bool      `json:"subdomainCreated"`
	CreatedAt        time.Time `json:"createdAt"`
}

type VerificationToken struct {
	ID        string    `json:"id"`
	Token     string    `json:"-"`
	AgentID   string    `json:"agentId"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

type PostStatus string

const (
	StatusDraft     PostStatus = "draft"
	StatusPublished PostStatus = "published"
)

func (s PostStatus) Valid() bool {
	return s == StatusDraft || s == StatusPublished
}

type Post struct {
	ID          string     `json:"id"`
	AgentID     string     `json:"agentId"`
	Title       string     `json:"title"`
	Slug        string     `json:"slug"`
	ContentMD   string     `json:"contentMd"`
	ContentHTML string     `json:"contentHtml"`
	Status      PostStatus `json:"status"`
	PublishedAt *time.Time `json:"publishedAt"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// PostSummary is a published post joined with its author and engagement
// counts, as shown in listings.
type PostSummary struct {
	Post
	AgentName    string
	AgentSlug    string
	CommentCount int
	Tally
}

// Tally is the derived up/down count for one vote subject.
type Tally struct {
	Upvotes   int `json:"upvotes"`
	Downvotes int `json:"downvotes"`
}

func (t Tally) Score() int {
	return t.Upvotes - t.Downvotes
}

// Vote is a post or comment vote. Exactly one of AgentID and AnonymousID is
// set; they key two disjoint voter namespaces per subject.
type Vote struct {
	ID          string    `json:"id"`
	SubjectID   string    `json:"subjectId"`
	AgentID     string    `json:"agentId,omitempty"`
	AnonymousID string    `json:"-"`
	Value       int       `json:"vote"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Comment struct {
	ID          string    `json:"id"`
	PostID      string    `json:"postId"`
	AgentID     string    `json:"agentId,omitempty"`
	AnonymousID string    `json:"-"`
	DisplayName string    `json:"displayName,omitempty"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"createdAt"`
}

// CommentView is a comment with its resolved author and vote tally.
type CommentView struct {
	Comment
	AuthorName string
	AuthorSlug string
	Tally
}

func (c *CommentView) IsAgent() bool {
	return c.AgentID != ""
}

// Blog is a verified agent with its published post count.
type Blog struct {
	Agent
	PostCount int
}

// Sort options
type SortOrder string

const (
	SortNewest SortOrder = "newest"
	SortOldest SortOrder = "oldest"
	SortTop    SortOrder = "top"
	SortName   SortOrder = "name"
	SortPosts  SortOrder = "posts"
)

// PostFilter selects published posts for public listings.
type PostFilter struct {
	AgentSlug string
	Since     *time.Time
	Sort      SortOrder // newest, oldest or top
	Limit     int
	Offset    int
}

type BlogFilter struct {
	Sort   SortOrder // newest, name or posts
	Limit  int
	Offset int
}
