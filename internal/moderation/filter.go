// Package moderation classifies chat content against categorized keyword
// lists. Group images and group messages are screened against the two filter
// categories; private reward submissions are screened against the reward
// category, which requires a minimum number of distinct keyword hits.
//
// The keyword lists live in an immutable snapshot that Reload swaps in
// atomically, so a classification always sees one complete configuration.
package moderation

import (
	"fmt"
	"io"
	"sync/atomic"
	"unicode"

	"go.uber.org/zap"
)

const (
	DefaultLengthThreshold = 200
	DefaultMinDigits       = 8
	DefaultMatchCount      = 3
)

// Config tunes the heuristics. Zero values select the defaults above.
type Config struct {
	LengthThreshold int
	Script          *unicode.RangeTable
	MinDigits       int

	// MatchCount is the reward threshold used when the keyword document does
	// not carry its own matchCount.
	MatchCount int

	Logger *zap.Logger
}

// Detector classifies text. It is safe for concurrent use.
type Detector struct {
	lengthThreshold int
	script          *unicode.RangeTable
	minDigits       int
	fallbackCount   int
	logger          *zap.Logger

	current atomic.Pointer[snapshot]
}

// New builds a detector from cfg and an initial keyword document. A nil
// document starts the detector with empty lists.
func New(cfg Config, doc *KeywordDocument) *Detector {
	d := &Detector{
		lengthThreshold: cfg.LengthThreshold,
		script:          cfg.Script,
		minDigits:       cfg.MinDigits,
		fallbackCount:   cfg.MatchCount,
		logger:          cfg.Logger,
	}
	if d.lengthThreshold == 0 {
		d.lengthThreshold = DefaultLengthThreshold
	}
	if d.script == nil {
		d.script = unicode.Han
	}
	if d.minDigits <= 0 {
		d.minDigits = DefaultMinDigits
	}
	if d.fallbackCount <= 0 {
		d.fallbackCount = DefaultMatchCount
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	if doc == nil {
		doc = &KeywordDocument{}
	}
	d.current.Store(d.build(doc))
	return d
}

func (d *Detector) build(doc *KeywordDocument) *snapshot {
	count := d.fallbackCount
	if doc.MatchCount != nil {
		count = *doc.MatchCount
	}
	return newSnapshot(doc.KeywordSet(), count)
}

// Classify runs the category's checks in priority order and returns the first
// marker produced, or nil when the text is clean.
func (d *Detector) Classify(text string, cat Category) *Marker {
	if text == "" {
		return nil
	}
	snap := d.current.Load()
	for _, c := range checksFor(cat) {
		if m := c.detect(d, snap, text, cat); m != nil {
			d.logger.Debug("content flagged",
				zap.String("category", string(cat)),
				zap.String("check", c.name),
				zap.Stringer("marker", m))
			return m
		}
	}
	return nil
}

// CheckReward screens a reward submission. The matched keywords are reported
// even when there are too few of them to qualify.
func (d *Detector) CheckReward(text string) RewardMatch {
	snap := d.current.Load()
	res := RewardMatch{Required: snap.matchCount}
	if text == "" {
		return res
	}
	res.Matched = snap.matchers[CategoryReward].match(text)
	res.Count = len(res.Matched)
	res.Qualifies = res.Count >= res.Required
	return res
}

// Reload replaces the keyword lists with the document at path. On failure the
// previous lists stay active and an ErrConfigLoad error is returned.
func (d *Detector) Reload(path string) error {
	doc, err := LoadDocument(path)
	if err != nil {
		d.logger.Warn("keyword reload failed, keeping previous lists",
			zap.String("path", path), zap.Error(err))
		return err
	}
	d.swap(doc)
	return nil
}

// ReloadFrom is Reload for an already opened source.
func (d *Detector) ReloadFrom(r io.Reader, format Format) error {
	doc, err := ParseDocument(r, format)
	if err != nil {
		d.logger.Warn("keyword reload failed, keeping previous lists", zap.Error(err))
		return err
	}
	d.swap(doc)
	return nil
}

func (d *Detector) swap(doc *KeywordDocument) {
	snap := d.build(doc)
	d.current.Store(snap)
	d.logger.Info("keyword lists reloaded",
		zap.Int("reward", len(snap.set[CategoryReward])),
		zap.Int("image_filter", len(snap.set[CategoryImageFilter])),
		zap.Int("message_filter", len(snap.set[CategoryMessageFilter])),
		zap.Int("match_count", snap.matchCount))
}

// Keywords returns a copy of the active list for cat.
func (d *Detector) Keywords(cat Category) []string {
	words := d.current.Load().set[cat]
	out := make([]string, len(words))
	copy(out, words)
	return out
}

// MatchCountRequired is the active reward threshold.
func (d *Detector) MatchCountRequired() int {
	return d.current.Load().matchCount
}

// Describe renders a marker as the reason string used in audit records.
func Describe(cat Category, m *Marker) string {
	return fmt.Sprintf("%s: %s", cat, m)
}
