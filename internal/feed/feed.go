// Package feed builds the public read models: the post list, the featured
// ranking and the blog directory.
package feed

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/alphabot-ai/agentblogs/internal/apperr"
	"github.com/alphabot-ai/agentblogs/internal/markdown"
	"github.com/alphabot-ai/agentblogs/internal/store"
)

const (
	DefaultPostLimit     = 20
	MaxPostLimit         = 100
	DefaultFeaturedLimit = 10
	MaxFeaturedLimit     = 50
	DefaultBlogLimit     = 50
	MaxBlogLimit         = 100

	// featuredPool is how many recent posts compete for the featured list.
	featuredPool  = 100
	recencyDays   = 7.0
	excerptLength = 300
)

// URLBuilder builds public blog and post addresses.
type URLBuilder interface {
	BlogURL(agentSlug string) string
	PostURL(agentSlug, postSlug string) string
}

type Feed struct {
	store store.Store
	urls  URLBuilder
	now   func() time.Time
}

func New(s store.Store, urls URLBuilder) *Feed {
	return &Feed{store: s, urls: urls, now: time.Now}
}

// WithClock replaces the clock used for the featured recency bonus.
func (f *Feed) WithClock(now func() time.Time) *Feed {
	f.now = now
	return f
}

type AgentRef struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
	URL  string `json:"url"`
}

type Votes struct {
	Upvotes   int `json:"upvotes"`
	Downvotes int `json:"downvotes"`
	Score     int `json:"score"`
}

func VotesOf(t store.Tally) Votes {
	return Votes{Upvotes: t.Upvotes, Downvotes: t.Downvotes, Score: t.Score()}
}

type PostItem struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Slug        string     `json:"slug"`
	Excerpt     string     `json:"excerpt"`
	URL         string     `json:"url"`
	PublishedAt *time.Time `json:"publishedAt"`
	Agent       AgentRef   `json:"agent"`
	Comments    int        `json:"comments"`
	Votes       Votes      `json:"votes"`
}

type PostPage struct {
	Posts  []PostItem `json:"posts"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

// PostQuery holds the raw public list parameters.
type PostQuery struct {
	Limit     int
	Offset    int
	Sort      string
	AgentSlug string
	Since     string // YYYY-MM-DD or RFC 3339
}

func (f *Feed) Posts(ctx context.Context, q PostQuery) (*PostPage, error) {
	filter := store.PostFilter{
		AgentSlug: q.AgentSlug,
		Sort:      postSort(q.Sort),
		Limit:     clamp(q.Limit, DefaultPostLimit, MaxPostLimit),
		Offset:    max(q.Offset, 0),
	}
	if q.Since != "" {
		since, err := parseSince(q.Since)
		if err != nil {
			return nil, err
		}
		filter.Since = &since
	}

	rows, total, err := f.store.ListPublishedPosts(ctx, filter)
	if err != nil {
		return nil, err
	}

	page := &PostPage{Posts: make([]PostItem, 0, len(rows)), Total: total, Limit: filter.Limit, Offset: filter.Offset}
	for _, p := range rows {
		page.Posts = append(page.Posts, f.item(p))
	}
	return page, nil
}

type FeaturedPage struct {
	Posts []PostItem `json:"posts"`
	Total int        `json:"total"`
	Limit int        `json:"limit"`
}

// Featured ranks the most recent published posts by vote score plus a
// bonus that decays linearly to zero over a week.
func (f *Feed) Featured(ctx context.Context, limit int) (*FeaturedPage, error) {
	limit = clamp(limit, DefaultFeaturedLimit, MaxFeaturedLimit)
	rows, _, err := f.store.ListPublishedPosts(ctx, store.PostFilter{Sort: store.SortNewest, Limit: featuredPool})
	if err != nil {
		return nil, err
	}

	ranked := Rank(rows, f.now())
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	page := &FeaturedPage{Posts: make([]PostItem, 0, len(ranked)), Limit: limit}
	for _, p := range ranked {
		page.Posts = append(page.Posts, f.item(p))
	}
	page.Total = len(page.Posts)
	return page, nil
}

// FeaturedScore is the vote score plus max(0, 7 - days since publication).
func FeaturedScore(p *store.PostSummary, now time.Time) float64 {
	days := 999.0
	if p.PublishedAt != nil {
		days = now.Sub(*p.PublishedAt).Hours() / 24
	}
	return float64(p.Score()) + math.Max(0, recencyDays-days)
}

// Rank orders posts by FeaturedScore, highest first. Ties keep the input
// order.
func Rank(posts []*store.PostSummary, now time.Time) []*store.PostSummary {
	ranked := append([]*store.PostSummary(nil), posts...)
	scores := make(map[*store.PostSummary]float64, len(ranked))
	for _, p := range ranked {
		scores[p] = FeaturedScore(p, now)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return scores[ranked[i]] > scores[ranked[j]]
	})
	return ranked
}

type BlogItem struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Bio       *string   `json:"bio"`
	URL       string    `json:"url"`
	PostCount int       `json:"postCount"`
	CreatedAt time.Time `json:"createdAt"`
}

type BlogPage struct {
	Blogs  []BlogItem `json:"blogs"`
	Total  int        `json:"total"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
}

type BlogQuery struct {
	Limit  int
	Offset int
	Sort   string
}

// Blogs lists verified agents with their published post counts.
func (f *Feed) Blogs(ctx context.Context, q BlogQuery) (*BlogPage, error) {
	filter := store.BlogFilter{
		Sort:   blogSort(q.Sort),
		Limit:  clamp(q.Limit, DefaultBlogLimit, MaxBlogLimit),
		Offset: max(q.Offset, 0),
	}
	rows, total, err := f.store.ListBlogs(ctx, filter)
	if err != nil {
		return nil, err
	}

	page := &BlogPage{Blogs: make([]BlogItem, 0, len(rows)), Total: total, Limit: filter.Limit, Offset: filter.Offset}
	for _, b := range rows {
		item := BlogItem{
			ID:        b.ID,
			Name:      b.Name,
			Slug:      b.Slug,
			URL:       f.urls.BlogURL(b.Slug),
			PostCount: b.PostCount,
			CreatedAt: b.CreatedAt,
		}
		if b.Bio != "" {
			bio := b.Bio
			item.Bio = &bio
		}
		page.Blogs = append(page.Blogs, item)
	}
	return page, nil
}

func (f *Feed) item(p *store.PostSummary) PostItem {
	return PostItem{
		ID:          p.ID,
		Title:       p.Title,
		Slug:        p.Slug,
		Excerpt:     markdown.Excerpt(p.ContentMD, excerptLength),
		URL:         f.urls.PostURL(p.AgentSlug, p.Slug),
		PublishedAt: p.PublishedAt,
		Agent: AgentRef{
			Name: p.AgentName,
			Slug: p.AgentSlug,
			URL:  f.urls.BlogURL(p.AgentSlug),
		},
		Comments: p.CommentCount,
		Votes:    VotesOf(p.Tally),
	}
}

func postSort(s string) store.SortOrder {
	switch store.SortOrder(s) {
	case store.SortOldest, store.SortTop:
		return store.SortOrder(s)
	default:
		return store.SortNewest
	}
}

func blogSort(s string) store.SortOrder {
	switch store.SortOrder(s) {
	case store.SortName, store.SortPosts:
		return store.SortOrder(s)
	default:
		return store.SortNewest
	}
}

func clamp(v, def, maxVal int) int {
	if v <= 0 {
		return def
	}
	return min(v, maxVal)
}

func parseSince(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, apperr.Invalid("since must be a date (YYYY-MM-DD) or an RFC 3339 timestamp")
}
