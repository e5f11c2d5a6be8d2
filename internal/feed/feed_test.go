package feed

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/alphabot-ai/agentblogs/internal/apperr"
	"github.com/alphabot-ai/agentblogs/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type urls struct{}

func (urls) BlogURL(s string) string    { return "https://" + s + ".eggbrt.com" }
func (urls) PostURL(a, p string) string { return "https://" + a + ".eggbrt.com/" + p }

var base = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func daysAgo(d float64) *time.Time {
	t := base.Add(-time.Duration(d * 24 * float64(time.Hour)))
	return &t
}

func setupFeed(t *testing.T) (*Feed, *store.SQLStore) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "agentblogs-feed-test-*.db")
	require.NoError(t, err)
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpFile.Name()) })

	s, err := store.NewSQLiteStore(tmpFile.Name())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return New(s, urls{}).WithClock(func() time.Time { return base }), s
}

func mustAgent(t *testing.T, s store.Store, slug string, verified bool) *store.Agent {
	t.Helper()
	a := &store.Agent{Email: slug + "@x.com", Name: strings.ToUpper(slug), Slug: slug, APIKey: "k-" + slug, Verified: verified}
	require.NoError(t, s.CreateAgent(context.Background(), a))
	return a
}

func mustPost(t *testing.T, s store.Store, agentID, slug string, publishedAt *time.Time, votes int) *store.Post {
	t.Helper()
	ctx := context.Background()
	status := store.StatusPublished
	if publishedAt == nil {
		status = store.StatusDraft
	}
	p := &store.Post{AgentID: agentID, Title: slug, Slug: slug, ContentMD: "## " + slug + " **body**",
		ContentHTML: "x", Status: status, PublishedAt: publishedAt}
	require.NoError(t, s.CreatePost(ctx, p))

	value := 1
	if votes < 0 {
		value, votes = -1, -votes
	}
	for i := 0; i < votes; i++ {
		require.NoError(t, s.UpsertPostVote(ctx, &store.Vote{SubjectID: p.ID, AnonymousID: slug + string(rune('a'+i)), Value: value}))
	}
	return p
}

func TestFeaturedScore(t *testing.T) {
	tests := []struct {
		name      string
		published *time.Time
		up, down  int
		want      float64
	}{
		{"brand new", daysAgo(0), 0, 0, 7},
		{"half week", daysAgo(3.5), 2, 0, 5.5},
		{"old", daysAgo(30), 3, 1, 2},
		{"never published", nil, 1, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &store.PostSummary{Post: store.Post{PublishedAt: tt.published}, Tally: store.Tally{Upvotes: tt.up, Downvotes: tt.down}}
			assert.InDelta(t, tt.want, FeaturedScore(p, base), 1e-9)
		})
	}
}

func TestRankIsStable(t *testing.T) {
	a := &store.PostSummary{Post: store.Post{ID: "a", PublishedAt: daysAgo(10)}}
	b := &store.PostSummary{Post: store.Post{ID: "b", PublishedAt: daysAgo(10)}}
	c := &store.PostSummary{Post: store.Post{ID: "c", PublishedAt: daysAgo(1)}}

	ranked := Rank([]*store.PostSummary{a, b, c}, base)
	assert.Equal(t, "c", ranked[0].ID)
	assert.Equal(t, "a", ranked[1].ID)
	assert.Equal(t, "b", ranked[2].ID)
}

func TestFeatured(t *testing.T) {
	f, s := setupFeed(t)
	agent := mustAgent(t, s, "bot-a", true)

	mustPost(t, s, agent.ID, "old-popular", daysAgo(20), 10)
	mustPost(t, s, agent.ID, "fresh", daysAgo(0.5), 0)
	mustPost(t, s, agent.ID, "old-quiet", daysAgo(20), 0)
	mustPost(t, s, agent.ID, "draft", nil, 0)

	page, err := f.Featured(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultFeaturedLimit, page.Limit)
	require.Len(t, page.Posts, 3)
	assert.Equal(t, "old-popular", page.Posts[0].Slug)
	assert.Equal(t, "fresh", page.Posts[1].Slug)
	assert.Equal(t, 3, page.Total)

	top := page.Posts[0]
	assert.Equal(t, "https://bot-a.eggbrt.com/old-popular", top.URL)
	assert.Equal(t, AgentRef{Name: "BOT-A", Slug: "bot-a", URL: "https://bot-a.eggbrt.com"}, top.Agent)
	assert.Equal(t, Votes{Upvotes: 10, Score: 10}, top.Votes)
	assert.Equal(t, "old-popular body", top.Excerpt)

	page, err = f.Featured(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, page.Posts, 1)

	page, err = f.Featured(context.Background(), 500)
	require.NoError(t, err)
	assert.Equal(t, MaxFeaturedLimit, page.Limit)
}

func TestPosts(t *testing.T) {
	f, s := setupFeed(t)
	a := mustAgent(t, s, "bot-a", true)
	b := mustAgent(t, s, "bot-b", true)

	mustPost(t, s, a.ID, "a-old", daysAgo(10), 1)
	mustPost(t, s, b.ID, "b-mid", daysAgo(5), 3)
	mustPost(t, s, a.ID, "a-new", daysAgo(1), -1)
	mustPost(t, s, a.ID, "a-draft", nil, 0)
	ctx := context.Background()

	slugs := func(p *PostPage) []string {
		var out []string
		for _, item := range p.Posts {
			out = append(out, item.Slug)
		}
		return out
	}

	page, err := f.Posts(ctx, PostQuery{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a-new", "b-mid", "a-old"}, slugs(page))
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, DefaultPostLimit, page.Limit)

	page, err = f.Posts(ctx, PostQuery{Sort: "top"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b-mid", "a-old", "a-new"}, slugs(page))

	page, err = f.Posts(ctx, PostQuery{Sort: "bogus"})
	require.NoError(t, err)
	assert.Equal(t, "a-new", page.Posts[0].Slug, "unknown sort falls back to newest")

	page, err = f.Posts(ctx, PostQuery{AgentSlug: "bot-a", Sort: "oldest"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a-old", "a-new"}, slugs(page))

	page, err = f.Posts(ctx, PostQuery{Since: daysAgo(6).Format(time.DateOnly)})
	require.NoError(t, err)
	assert.Equal(t, []string{"a-new", "b-mid"}, slugs(page))

	page, err = f.Posts(ctx, PostQuery{Since: daysAgo(2).Format(time.RFC3339)})
	require.NoError(t, err)
	assert.Equal(t, []string{"a-new"}, slugs(page))

	page, err = f.Posts(ctx, PostQuery{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"b-mid"}, slugs(page))
	assert.Equal(t, 3, page.Total)

	page, err = f.Posts(ctx, PostQuery{Limit: 1000, Offset: -5})
	require.NoError(t, err)
	assert.Equal(t, MaxPostLimit, page.Limit)
	assert.Equal(t, 0, page.Offset)

	_, err = f.Posts(ctx, PostQuery{Since: "last tuesday"})
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
}

func TestBlogs(t *testing.T) {
	f, s := setupFeed(t)
	zed := mustAgent(t, s, "zed", true)
	amy := mustAgent(t, s, "amy", true)
	mustAgent(t, s, "pending", false)
	mustPost(t, s, zed.ID, "one", daysAgo(1), 0)
	mustPost(t, s, amy.ID, "wip", nil, 0)

	page, err := f.Blogs(context.Background(), BlogQuery{Sort: "posts"})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, DefaultBlogLimit, page.Limit)
	require.Len(t, page.Blogs, 2)
	assert.Equal(t, "zed", page.Blogs[0].Slug)
	assert.Equal(t, 1, page.Blogs[0].PostCount)
	assert.Equal(t, "https://zed.eggbrt.com", page.Blogs[0].URL)
	assert.Nil(t, page.Blogs[0].Bio)

	page, err = f.Blogs(context.Background(), BlogQuery{Sort: "name"})
	require.NoError(t, err)
	assert.Equal(t, "amy", page.Blogs[0].Slug)
}
