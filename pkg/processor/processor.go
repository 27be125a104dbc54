// Package processor turns raw upstream engagements into enriched records.
package processor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/jdziat/engagement-jobs/pkg/core"
	"github.com/jdziat/engagement-jobs/pkg/upstream"
)

// CategoryOther is assigned when no rule matches.
const CategoryOther = "other"

// Rule assigns Category when any keyword appears in an account's name,
// username or bio. Multi-word keywords match whole-word sequences.
type Rule struct {
	Category string   `yaml:"category"`
	Keywords []string `yaml:"keywords"`
}

// DefaultRules returns the built-in categories in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{Category: "founder", Keywords: []string{
			"founder", "cofounder", "founded", "founding", "indie hacker", "bootstrapped", "building in public",
		}},
		{Category: "investor", Keywords: []string{
			"investor", "investing", "vc", "venture capital", "venture partner", "angel", "general partner",
			"lp", "seed fund", "pre seed",
		}},
		{Category: "media", Keywords: []string{
			"journalist", "reporter", "editor", "columnist", "correspondent", "podcast", "podcaster",
			"newsletter", "host of", "tech news",
		}},
		{Category: "developer", Keywords: []string{
			"developer", "engineer", "engineering", "programmer", "dev", "swe", "coder", "open source",
			"golang", "rustacean", "devops", "full stack", "fullstack",
		}},
		{Category: "executive", Keywords: []string{
			"ceo", "cto", "cfo", "coo", "cmo", "cpo", "vp", "vice president", "head of", "director",
			"president", "chief",
		}},
		{Category: "alumni-network", Keywords: []string{
			"yc", "y combinator", "techstars", "500 startups", "on deck", "alum", "alumni",
			"ex google", "ex meta", "ex stripe", "ex openai", "ex apple", "ex amazon",
		}},
		{Category: "ai-creator", Keywords: []string{
			"ai", "ml", "llm", "llms", "genai", "generative ai", "machine learning", "deep learning",
			"prompt engineer", "ai artist", "midjourney", "stable diffusion", "gpt",
		}},
	}
}

// Processor enriches engagements with an importance score and account
// categories. It does not persist anything.
type Processor struct {
	index  core.ImportanceIndex
	rules  []compiledRule
	logger *slog.Logger
}

type compiledRule struct {
	category string
	phrases  []string // normalized, padded with spaces
}

// Option configures a Processor.
type Option func(*Processor)

// WithRules replaces the category rules.
func WithRules(rules []Rule) Option {
	return func(p *Processor) {
		p.rules = compile(rules)
	}
}

// WithLogger sets the processor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a Processor. A nil index scores everyone 0.
func New(index core.ImportanceIndex, opts ...Option) *Processor {
	p := &Processor{
		index:  index,
		rules:  compile(DefaultRules()),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func compile(rules []Rule) []compiledRule {
	out := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		cr := compiledRule{category: r.Category}
		for _, k := range r.Keywords {
			if n := normalize(k); n != "  " {
				cr.phrases = append(cr.phrases, n)
			}
		}
		out = append(out, cr)
	}
	return out
}

// normalize lowercases s, splits it on anything that is not a letter or
// digit, and joins the words with single spaces padded on both ends so
// phrase containment respects word boundaries.
func normalize(s string) string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return " " + strings.Join(words, " ") + " "
}

// Categorize returns every matching category in rule order, or
// ["other"] when none match.
func (p *Processor) Categorize(profile core.Profile) []string {
	text := normalize(profile.Name + " " + profile.Username + " " + profile.Bio)
	var cats []string
	for _, r := range p.rules {
		for _, phrase := range r.phrases {
			if strings.Contains(text, phrase) {
				cats = append(cats, r.category)
				break
			}
		}
	}
	if len(cats) == 0 {
		return []string{CategoryOther}
	}
	return cats
}

// Importance looks the user up in the importance index. Misses and lookup
// failures score 0.
func (p *Processor) Importance(ctx context.Context, userID string) float64 {
	if p.index == nil {
		return 0
	}
	score, ok, err := p.index.LookupImportance(ctx, userID)
	if err != nil {
		p.logger.Debug("importance lookup failed", "user_id", userID, "error", err)
		return 0
	}
	if !ok {
		return 0
	}
	return score
}

// ErrMissingUser is returned for items without an engaging account.
var ErrMissingUser = errors.New("processor: item has no user id")

// Process builds the engagement record for one upstream item.
func (p *Processor) Process(ctx context.Context, item upstream.Item, postID string, action core.ActionType, seenAt time.Time) (*core.Engagement, error) {
	u := item.User
	if u.UserID == "" {
		return nil, ErrMissingUser
	}
	e := &core.Engagement{
		PostID:            postID,
		UserID:            u.UserID,
		ActionType:        action,
		Username:          u.Username,
		Name:              u.Name,
		Bio:               u.Bio,
		Location:          u.Location,
		FollowersCount:    u.FollowersCount,
		Verified:          u.Verified,
		ImportanceScore:   p.Importance(ctx, u.UserID),
		AccountCategories: p.Categorize(u),
		EngagementTweetID: item.EventID,
		LastSeenAt:        seenAt,
	}
	if !item.CreatedAt.IsZero() {
		at := item.CreatedAt.UTC()
		e.EngagedAt = &at
	}
	return e, nil
}
