package bot

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/whisper/guardbot/internal/metrics"
	"github.com/whisper/guardbot/internal/moderation"
	"github.com/whisper/guardbot/internal/protocol"
	"github.com/whisper/guardbot/internal/reward"
	"go.uber.org/zap"
)

// Admin commands.
const (
	cmdReload  = "/rl"
	cmdStock   = "/stock"
	cmdRestock = "/restock"
)

// handlePrivate runs the reward flow. A user still cooling down gets no
// answer at all; every other message restarts the cooldown.
func (b *Bot) handlePrivate(ctx context.Context, ev protocol.Event) []protocol.Directive {
	user := ev.UserID
	if !b.deps.Cooldown.CanSend(ctx, user) {
		b.logger.Debug("private message dropped, cooling down",
			zap.String("user_id", user),
			zap.Duration("remaining", b.deps.Cooldown.Remaining(ctx, user)))
		return nil
	}
	defer b.deps.Cooldown.Record(ctx, user)

	if out, ok := b.command(ctx, ev); ok {
		return out
	}

	if !ev.HasImage() {
		return b.reply(user, b.deps.Replies.Welcome)
	}

	canClaim, err := b.deps.Ledger.CanClaim(ctx, user)
	if err != nil {
		b.logger.Error("reward ledger unavailable", zap.String("user_id", user), zap.Error(err))
		return b.reply(user, b.deps.Replies.ClaimFailed)
	}
	if !canClaim {
		code, _, err := b.deps.Ledger.IssuedToday(ctx, user)
		if err != nil {
			b.logger.Error("reward ledger unavailable", zap.String("user_id", user), zap.Error(err))
			return b.reply(user, b.deps.Replies.ClaimFailed)
		}
		metrics.ClaimsTotal.WithLabelValues(reward.StatusAlreadyClaimed.String()).Inc()
		return b.reply(user, b.deps.Replies.render(b.deps.Replies.AlreadyClaimed, "{code}", code))
	}
	remaining, err := b.deps.Ledger.Remaining(ctx)
	if err != nil {
		b.logger.Error("reward ledger unavailable", zap.String("user_id", user), zap.Error(err))
		return b.reply(user, b.deps.Replies.ClaimFailed)
	}
	if remaining == 0 {
		metrics.ClaimsTotal.WithLabelValues(reward.StatusPoolExhausted.String()).Inc()
		return b.reply(user, b.deps.Replies.Exhausted)
	}

	ref, _ := ev.Image()
	match := b.deps.Detector.CheckReward(b.recognize(ctx, ref))
	if !match.Qualifies {
		b.logger.Info("reward screenshot rejected",
			zap.String("user_id", user),
			zap.Strings("matched", match.Matched),
			zap.Int("count", match.Count),
			zap.Int("required", match.Required))
		return b.reply(user, b.deps.Replies.VerificationFailed)
	}

	claim, err := b.deps.Ledger.Claim(ctx, user)
	if err != nil {
		b.logger.Error("reward claim failed", zap.String("user_id", user), zap.Error(err))
		return b.reply(user, b.deps.Replies.ClaimFailed)
	}
	metrics.ClaimsTotal.WithLabelValues(claim.Status.String()).Inc()
	b.poolSize(ctx)

	switch claim.Status {
	case reward.StatusIssued:
		return b.reply(user, b.deps.Replies.render(b.deps.Replies.Issued, "{code}", claim.Code))
	case reward.StatusAlreadyClaimed:
		return b.reply(user, b.deps.Replies.render(b.deps.Replies.AlreadyClaimed, "{code}", claim.Code))
	default:
		return b.reply(user, b.deps.Replies.Exhausted)
	}
}

// command runs an admin command. ok is false when the message is not a
// command the sender may run, so it continues through the normal flow.
func (b *Bot) command(ctx context.Context, ev protocol.Event) ([]protocol.Directive, bool) {
	fields := strings.Fields(ev.Text())
	if len(fields) == 0 {
		return nil, false
	}
	user := ev.UserID

	switch {
	case fields[0] == cmdReload && b.mayReload(user):
		if err := b.ReloadKeywords(user); err != nil {
			return b.reply(user, b.deps.Replies.ReloadFailed), true
		}
		words := b.deps.Detector.Keywords(moderation.CategoryMessageFilter)
		return b.reply(user, b.deps.Replies.render(b.deps.Replies.Reloaded, "{keywords}", strings.Join(words, ", "))), true

	case fields[0] == cmdStock && b.isAdmin(user):
		return b.reply(user, b.stockReply(ctx, b.deps.Replies.Stock, 0)), true

	case fields[0] == cmdRestock && b.isAdmin(user):
		added := 0
		for _, code := range fields[1:] {
			err := b.deps.Ledger.Restock(ctx, code)
			switch {
			case err == nil:
				added++
			case errors.Is(err, reward.ErrDuplicateCode), errors.Is(err, reward.ErrInvalidCode):
				b.logger.Info("restock skipped code", zap.String("code", code), zap.Error(err))
			default:
				b.logger.Error("restock failed", zap.String("code", code), zap.Error(err))
			}
		}
		return b.reply(user, b.stockReply(ctx, b.deps.Replies.Restocked, added)), true
	}
	return nil, false
}

// poolSize reads the pool size and refreshes the gauge. -1 means the ledger
// could not be read.
func (b *Bot) poolSize(ctx context.Context) int {
	n, err := b.deps.Ledger.Remaining(ctx)
	if err != nil {
		b.logger.Error("pool size unavailable", zap.Error(err))
		return -1
	}
	metrics.PoolRemaining.Set(float64(n))
	return n
}

func (b *Bot) stockReply(ctx context.Context, tmpl string, added int) string {
	remaining := "?"
	if n := b.poolSize(ctx); n >= 0 {
		remaining = strconv.Itoa(n)
	}
	return b.deps.Replies.render(tmpl,
		"{remaining}", remaining,
		"{count}", strconv.Itoa(added))
}

func (b *Bot) reply(userID, text string) []protocol.Directive {
	if text == "" {
		return nil
	}
	return []protocol.Directive{protocol.SendReply(userID, text)}
}
