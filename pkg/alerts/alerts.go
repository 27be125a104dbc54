// Package alerts detects engagement spikes on tracked posts.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jdziat/engagement-jobs/pkg/core"
)

// KindSpike marks a burst of new engagements on one post.
const KindSpike = "spike"

// Config holds detection thresholds.
type Config struct {
	// Window is how far back new engagements are counted.
	Window time.Duration `yaml:"window"`
	// Threshold is the engagement count within Window that raises an alert.
	Threshold int64 `yaml:"threshold"`
	// Cooldown suppresses repeat alerts for the same post.
	Cooldown time.Duration `yaml:"cooldown"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		Window:    time.Hour,
		Threshold: 50,
		Cooldown:  6 * time.Hour,
	}
}

// Store is the persistence the detector needs.
type Store interface {
	ListCampaignTweets(ctx context.Context, campaignID string) ([]*core.CampaignTweet, error)
	CountEngagementsSince(ctx context.Context, postID string, since time.Time) (int64, error)
	LastAlert(ctx context.Context, campaignID, postID, kind string) (*core.Alert, error)
	CreateAlert(ctx context.Context, a *core.Alert) error
}

// Detector writes spike alerts.
type Detector struct {
	store  Store
	config Config
	logger *slog.Logger
	now    func() time.Time
}

// NewDetector creates a Detector. Zero config fields take their defaults.
func NewDetector(store Store, cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	return &Detector{
		store:  store,
		config: cfg,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetLogger replaces the detector's logger.
func (d *Detector) SetLogger(l *slog.Logger) {
	if l != nil {
		d.logger = l
	}
}

// SetClock replaces the time source. Intended for tests.
func (d *Detector) SetClock(now func() time.Time) {
	if now != nil {
		d.now = now
	}
}

// Detect checks every post of the campaign and returns the alerts it wrote.
func (d *Detector) Detect(ctx context.Context, campaignID string) ([]*core.Alert, error) {
	tweets, err := d.store.ListCampaignTweets(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list campaign tweets: %w", err)
	}

	now := d.now()
	var raised []*core.Alert
	for _, t := range tweets {
		n, err := d.store.CountEngagementsSince(ctx, t.PostID, now.Add(-d.config.Window))
		if err != nil {
			return raised, fmt.Errorf("count engagements for %s: %w", t.PostID, err)
		}
		if n < d.config.Threshold {
			continue
		}

		last, err := d.store.LastAlert(ctx, campaignID, t.PostID, KindSpike)
		if err != nil {
			return raised, fmt.Errorf("last alert for %s: %w", t.PostID, err)
		}
		if last != nil && now.Sub(last.CreatedAt) < d.config.Cooldown {
			continue
		}

		a := &core.Alert{
			CampaignID: campaignID,
			PostID:     t.PostID,
			Kind:       KindSpike,
			Count:      n,
			Message:    fmt.Sprintf("%d new engagements on %s in the last %s", n, t.PostID, d.config.Window),
			CreatedAt:  now,
		}
		if err := d.store.CreateAlert(ctx, a); err != nil {
			return raised, fmt.Errorf("create alert: %w", err)
		}
		d.logger.Warn("engagement spike",
			"campaign_id", campaignID,
			"post_id", t.PostID,
			"count", n,
			"window", d.config.Window)
		raised = append(raised, a)
	}
	return raised, nil
}
