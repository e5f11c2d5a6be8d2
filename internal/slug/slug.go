// Package slug derives and validates the URL/DNS-safe identifiers used for
// agent blogs and posts.
package slug

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alphabot-ai/agentblogs/internal/apperr"
)

var (
	grammar      = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
	nonWord      = regexp.MustCompile(`[^a-z0-9_\s-]+`)
	whitespace   = regexp.MustCompile(`[\s_]+`)
	repeatHyphen = regexp.MustCompile(`-{2,}`)
)

// ErrTaken is returned when an explicitly requested slug already exists.
var ErrTaken = apperr.New(apperr.Conflict, "slug is already taken")

// maxAttempts bounds the suffix search; hitting it means the existence check
// is broken, not that the namespace is full.
const maxAttempts = 10000

// ExistsFunc reports whether candidate is already in use in the policy's
// scope (global for agents, per agent for posts).
type ExistsFunc func(ctx context.Context, candidate string) (bool, error)

// InvalidError describes why a slug was rejected.
type InvalidError struct {
	Slug     string
	Reason   string
	Reserved bool
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("invalid slug %q: %s", e.Slug, e.Reason)
}

// Unwrap exposes the error as a Validation failure to apperr.KindOf.
func (e *InvalidError) Unwrap() error {
	return apperr.Invalid(e.Reason)
}

// Policy is the single normalisation and validation rule set. Agents and
// posts differ only in length bounds, reserved words and fallback prefix.
type Policy struct {
	MinLen   int
	MaxLen   int
	Reserved map[string]struct{}
	Fallback string
	// Now stamps timestamp fallbacks; nil means time.Now.
	Now func() time.Time
}

// WithClock returns a copy of p that stamps fallbacks with now.
func (p Policy) WithClock(now func() time.Time) Policy {
	p.Now = now
	return p
}

// AgentPolicy keeps blog slugs usable as DNS labels and clear of the
// platform's own routes.
var AgentPolicy = Policy{
	MinLen:   3,
	MaxLen:   63,
	Reserved: reservedWords,
	Fallback: "agent",
}

var PostPolicy = Policy{
	MinLen:   1,
	MaxLen:   200,
	Fallback: "post",
}

var reservedWords = toSet(
	"about", "admin", "api", "api-docs", "app", "assets", "auth", "blog",
	"blogs", "cdn", "comments", "dashboard", "debug", "dev", "docs", "email",
	"featured", "ftp", "health", "help", "login", "logout", "mail", "metrics",
	"new", "null", "posts", "register", "root", "settings", "smtp", "staging",
	"static", "status", "support", "system", "undefined", "verify",
	"www",
)

func toSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// Normalize lowercases and trims an explicitly supplied slug.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Derive turns a human name or title into a slug candidate. The result may
// still be invalid (for example empty) and must be checked.
func Derive(name string) string {
	s := strings.ToLower(name)
	s = nonWord.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	s = whitespace.ReplaceAllString(s, "-")
	s = repeatHyphen.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// IsReserved reports whether s is one of the policy's reserved words.
func (p Policy) IsReserved(s string) bool {
	_, ok := p.Reserved[s]
	return ok
}

// Check validates an already-normalised slug.
func (p Policy) Check(s string) error {
	if len(s) < p.MinLen || len(s) > p.MaxLen {
		return &InvalidError{
			Slug:   s,
			Reason: fmt.Sprintf("slug must be %d-%d characters", p.MinLen, p.MaxLen),
		}
	}
	if !grammar.MatchString(s) {
		return &InvalidError{
			Slug:   s,
			Reason: "slug may only contain lowercase letters, numbers and single hyphens",
		}
	}
	if p.IsReserved(s) {
		return &InvalidError{Slug: s, Reason: fmt.Sprintf("slug %q is reserved", s), Reserved: true}
	}
	return nil
}

// Allocate resolves a free slug. With explicit set, candidate is the
// requested slug and is rejected outright when invalid or taken. Otherwise
// candidate is a name: the derived slug gets the first free numeric suffix.
func (p Policy) Allocate(ctx context.Context, candidate string, explicit bool, exists ExistsFunc) (string, error) {
	if explicit {
		return p.allocateExplicit(ctx, candidate, exists)
	}
	return p.allocateDerived(ctx, candidate, exists)
}

func (p Policy) allocateExplicit(ctx context.Context, requested string, exists ExistsFunc) (string, error) {
	s := Normalize(requested)
	if err := p.Check(s); err != nil {
		return "", err
	}
	taken, err := exists(ctx, s)
	if err != nil {
		return "", err
	}
	if taken {
		return "", ErrTaken
	}
	return s, nil
}

// FromName derives a well-formed slug from name without checking
// uniqueness. ok is false when nothing usable remains. The result may still
// be a reserved word.
func (p Policy) FromName(name string) (s string, ok bool) {
	base := truncate(Derive(name), p.MaxLen)
	if err := p.Check(base); err != nil {
		var invalid *InvalidError
		// Reserved words are valid shapes; they just need a suffix.
		if !errors.As(err, &invalid) || !invalid.Reserved {
			return "", false
		}
	}
	return base, true
}

// Candidate is FromName with names that derive to nothing usable replaced
// by a synthetic timestamp slug.
func (p Policy) Candidate(name string) string {
	if s, ok := p.FromName(name); ok {
		return s
	}
	return p.fallback()
}

// KeyedFallback is the synthetic slug for a name FromName rejects. The same
// name always maps to the same slug.
func (p Policy) KeyedFallback(name string) string {
	key := uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
	return p.Fallback + "-" + key[:8]
}

func (p Policy) allocateDerived(ctx context.Context, name string, exists ExistsFunc) (string, error) {
	base := p.Candidate(name)
	candidate := base
	for n := 1; n <= maxAttempts; n++ {
		if !p.IsReserved(candidate) {
			taken, err := exists(ctx, candidate)
			if err != nil {
				return "", err
			}
			if !taken {
				return candidate, nil
			}
		}
		suffix := "-" + strconv.Itoa(n)
		candidate = truncate(base, p.MaxLen-len(suffix)) + suffix
	}
	return "", apperr.New(apperr.Internal, "could not allocate a free slug")
}

func (p Policy) fallback() string {
	now := p.Now
	if now == nil {
		now = time.Now
	}
	return p.Fallback + "-" + strconv.FormatInt(now().UnixMilli(), 36)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return strings.TrimRight(s[:max], "-")
}
