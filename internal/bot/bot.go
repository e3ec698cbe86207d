// Package bot turns inbound chat events into directives. It ties the
// detector, OCR resolver, cooldown guard, reward ledger and violation tracker
// together; it never talks to the chat network itself.
package bot

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/whisper/guardbot/internal/audit"
	"github.com/whisper/guardbot/internal/metrics"
	"github.com/whisper/guardbot/internal/moderation"
	"github.com/whisper/guardbot/internal/ocr"
	"github.com/whisper/guardbot/internal/protocol"
	"github.com/whisper/guardbot/internal/ratelimit"
	"github.com/whisper/guardbot/internal/reward"
	"github.com/whisper/guardbot/internal/violation"
	"go.uber.org/zap"
)

// Detector classifies text against the keyword categories.
type Detector interface {
	Classify(text string, cat moderation.Category) *moderation.Marker
	CheckReward(text string) moderation.RewardMatch
	Reload(path string) error
	Keywords(cat moderation.Category) []string
}

// Recognizer extracts text from an image.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) ocr.Result
}

// ImageFetcher loads the bytes behind an image segment.
type ImageFetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// Ledger issues daily reward codes.
type Ledger interface {
	CanClaim(ctx context.Context, userID string) (bool, error)
	IssuedToday(ctx context.Context, userID string) (string, bool, error)
	Claim(ctx context.Context, userID string) (reward.Claim, error)
	Restock(ctx context.Context, code string) error
	Remaining(ctx context.Context) (int, error)
}

// Tracker counts violations and signals escalation.
type Tracker interface {
	Record(ctx context.Context, groupID, userID string, ct violation.ContentType) (bool, error)
	Reset(ctx context.Context, groupID, userID string) error
}

// Dependencies holds everything the bot needs. Audit, Clock and Logger are
// optional.
type Dependencies struct {
	Detector     Detector
	OCR          Recognizer
	Images       ImageFetcher
	Cooldown     ratelimit.Guard
	Ledger       Ledger
	Violations   Tracker
	Audit        audit.Recorder
	KeywordsPath string
	Admins       []string
	Replies      Replies
	Clock        func() time.Time
	Logger       *zap.Logger
}

// Bot handles one event at a time per caller; the components it holds are
// safe for concurrent use.
type Bot struct {
	deps   Dependencies
	clock  func() time.Time
	logger *zap.Logger
}

// New validates deps and returns a bot.
func New(deps Dependencies) (*Bot, error) {
	switch {
	case deps.Detector == nil:
		return nil, errors.New("bot: detector is required")
	case deps.OCR == nil:
		return nil, errors.New("bot: ocr resolver is required")
	case deps.Images == nil:
		return nil, errors.New("bot: image fetcher is required")
	case deps.Cooldown == nil:
		return nil, errors.New("bot: cooldown guard is required")
	case deps.Ledger == nil:
		return nil, errors.New("bot: reward ledger is required")
	case deps.Violations == nil:
		return nil, errors.New("bot: violation tracker is required")
	}

	b := &Bot{deps: deps, clock: deps.Clock, logger: deps.Logger}
	if b.clock == nil {
		b.clock = time.Now
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	return b, nil
}

// Handle decides what to do about ev. The returned directives are in the
// order the client should carry them out.
func (b *Bot) Handle(ctx context.Context, ev protocol.Event) []protocol.Directive {
	start := time.Now()
	defer func() {
		metrics.EventLatency.Observe(time.Since(start).Seconds())
	}()

	if len(ev.Segments) == 0 && ev.RawText == "" {
		b.logger.Debug("empty message ignored", zap.String("user_id", ev.UserID))
		return nil
	}

	var out []protocol.Directive
	switch ev.Kind {
	case protocol.KindGroupMessage:
		metrics.EventsTotal.WithLabelValues("group").Inc()
		out = b.handleGroup(ctx, ev)
	case protocol.KindPrivateMessage:
		metrics.EventsTotal.WithLabelValues("private").Inc()
		out = b.handlePrivate(ctx, ev)
	default:
		b.logger.Warn("unknown event kind", zap.String("kind", ev.Kind))
		return nil
	}

	for _, d := range out {
		metrics.ActionsTotal.WithLabelValues(d.Type).Inc()
	}
	return out
}

// handleGroup screens a group message. An image is checked first; when it is
// flagged the message is gone and the text is not checked.
func (b *Bot) handleGroup(ctx context.Context, ev protocol.Event) []protocol.Directive {
	if ref, ok := ev.Image(); ok {
		text := b.recognize(ctx, ref)
		if m := b.deps.Detector.Classify(text, moderation.CategoryImageFilter); m != nil {
			return b.punish(ctx, ev, violation.Image, moderation.CategoryImageFilter, m)
		}
	}

	if m := b.deps.Detector.Classify(ev.Text(), moderation.CategoryMessageFilter); m != nil {
		return b.punish(ctx, ev, violation.Text, moderation.CategoryMessageFilter, m)
	}
	return nil
}

// punish deletes the message, records the violation and, once the user
// reaches the threshold, kicks them and starts their count over.
func (b *Bot) punish(ctx context.Context, ev protocol.Event, ct violation.ContentType, cat moderation.Category, m *moderation.Marker) []protocol.Directive {
	metrics.DetectionsTotal.WithLabelValues(string(cat), m.Kind.String()).Inc()
	log := b.logger.With(
		zap.String("group_id", ev.GroupID),
		zap.String("user_id", ev.UserID),
		zap.String("message_id", ev.MessageID),
		zap.Stringer("marker", m))

	out := []protocol.Directive{protocol.DeleteMessage(ev.MessageID)}

	escalate, err := b.deps.Violations.Record(ctx, ev.GroupID, ev.UserID, ct)
	if err != nil {
		log.Warn("violation not recorded", zap.Error(err))
		return out
	}
	if !escalate {
		log.Info("message removed", zap.String("content_type", string(ct)))
		return out
	}

	out = append(out, protocol.KickUser(ev.GroupID, ev.UserID))
	metrics.KicksTotal.WithLabelValues(string(ct)).Inc()
	log.Info("user kicked", zap.String("content_type", string(ct)))

	if b.deps.Audit != nil {
		rec := audit.KickRecord{
			GroupID:     ev.GroupID,
			UserID:      ev.UserID,
			ContentType: string(ct),
			Reason:      moderation.Describe(cat, m),
			At:          b.clock(),
		}
		if err := b.deps.Audit.RecordKick(ctx, rec); err != nil {
			log.Error("kick audit failed", zap.Error(err))
		}
	}
	if err := b.deps.Violations.Reset(ctx, ev.GroupID, ev.UserID); err != nil {
		log.Warn("violation reset failed", zap.Error(err))
	}
	return out
}

// recognize fetches and reads an image. Any failure yields empty text, which
// no check flags.
func (b *Bot) recognize(ctx context.Context, ref string) string {
	image, err := b.deps.Images.Fetch(ctx, ref)
	if err != nil {
		b.logger.Warn("image fetch failed", zap.Error(err))
		return ""
	}
	res := b.deps.OCR.Recognize(ctx, image)
	if res.Diagnostics != "" {
		b.logger.Info("ocr diagnostics",
			zap.String("provider", res.Provider),
			zap.String("diagnostics", res.Diagnostics))
	}
	return res.Text
}

// ReloadKeywords reloads the keyword document. The previous lists stay
// active when the reload fails.
func (b *Bot) ReloadKeywords(requestedBy string) error {
	err := b.deps.Detector.Reload(b.deps.KeywordsPath)
	if err != nil {
		metrics.KeywordReloadsTotal.WithLabelValues("failed").Inc()
		return err
	}
	metrics.KeywordReloadsTotal.WithLabelValues("ok").Inc()
	b.logger.Info("keywords reloaded", zap.String("requested_by", requestedBy))
	return nil
}

func (b *Bot) isAdmin(userID string) bool {
	return slices.Contains(b.deps.Admins, userID)
}

// mayReload is isAdmin, except that /rl stays open to everyone while no
// admins are configured. Pool commands never are.
func (b *Bot) mayReload(userID string) bool {
	return len(b.deps.Admins) == 0 || b.isAdmin(userID)
}
