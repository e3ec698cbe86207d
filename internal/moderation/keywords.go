package moderation

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudflare/ahocorasick"
	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// ErrConfigLoad marks a keyword document that could not be read or parsed.
// The detector keeps serving its previous snapshot when it sees this error.
var ErrConfigLoad = errors.New("moderation: keyword config load failed")

// Format selects the decoder for a keyword document.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatForPath picks YAML for .yaml/.yml files and JSON otherwise.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// KeywordDocument is the on-disk keyword configuration.
type KeywordDocument struct {
	AdKeywords         []string `json:"ad_keywords" yaml:"ad_keywords"`
	AdWords            []string `json:"ad_words" yaml:"ad_words"`
	MatchCount         *int     `json:"matchCount,omitempty" yaml:"matchCount,omitempty"`
	KeywordImageFilter []string `json:"keywordImageFilter" yaml:"keywordImageFilter"`
	KeywordMsgFilter   []string `json:"keywordMsgFilter" yaml:"keywordMsgFilter"`
	RewardKeywords     []string `json:"rewardKeywords" yaml:"rewardKeywords"`
}

// ParseDocument decodes a keyword document from r.
func ParseDocument(r io.Reader, format Format) (*KeywordDocument, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read: %v", ErrConfigLoad, err)
	}

	var doc KeywordDocument
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &doc)
	default:
		err = json.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrConfigLoad, err)
	}
	if doc.MatchCount != nil && *doc.MatchCount < 1 {
		return nil, fmt.Errorf("%w: matchCount must be >= 1, got %d", ErrConfigLoad, *doc.MatchCount)
	}
	return &doc, nil
}

// LoadDocument reads and decodes the keyword document at path.
func LoadDocument(path string) (*KeywordDocument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrConfigLoad, path, err)
	}
	defer f.Close()
	return ParseDocument(f, FormatForPath(path))
}

// KeywordSet maps each category to its ordered keyword list.
type KeywordSet map[Category][]string

// KeywordSet resolves the document into per-category lists. ad_keywords and
// ad_words form the general set, which a filter category uses only when its
// own list is empty.
func (d *KeywordDocument) KeywordSet() KeywordSet {
	general := dedupe(append(append([]string{}, d.AdKeywords...), d.AdWords...))

	image := dedupe(d.KeywordImageFilter)
	if len(image) == 0 {
		image = general
	}
	msg := dedupe(d.KeywordMsgFilter)
	if len(msg) == 0 {
		msg = general
	}

	return KeywordSet{
		CategoryReward:        dedupe(d.RewardKeywords),
		CategoryImageFilter:   image,
		CategoryMessageFilter: msg,
	}
}

// dedupe trims entries, drops blanks and keeps the first occurrence of each
// keyword.
func dedupe(words []string) []string {
	out := make([]string, 0, len(words))
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

// categoryMatcher is an immutable automaton over one category's keywords.
type categoryMatcher struct {
	words   []string
	matcher *ahocorasick.Matcher
}

func newCategoryMatcher(words []string) *categoryMatcher {
	cm := &categoryMatcher{words: words}
	if len(words) > 0 {
		cm.matcher = ahocorasick.NewStringMatcher(words)
	}
	return cm
}

// match returns every keyword contained in text, in list order.
func (cm *categoryMatcher) match(text string) []string {
	if cm == nil || cm.matcher == nil || text == "" {
		return nil
	}
	hits := cm.matcher.MatchThreadSafe([]byte(text))
	if len(hits) == 0 {
		return nil
	}
	found := make(map[string]struct{}, len(hits))
	for _, h := range hits {
		if h >= 0 && h < len(cm.words) {
			found[cm.words[h]] = struct{}{}
		}
	}
	matched := make([]string, 0, len(found))
	for _, w := range cm.words {
		if _, ok := found[w]; ok {
			matched = append(matched, w)
		}
	}
	return matched
}

// snapshot is the complete, immutable detector state swapped on reload.
type snapshot struct {
	set        KeywordSet
	matchers   map[Category]*categoryMatcher
	matchCount int
}

func newSnapshot(set KeywordSet, matchCount int) *snapshot {
	s := &snapshot{
		set:        set,
		matchers:   make(map[Category]*categoryMatcher, len(Categories)),
		matchCount: matchCount,
	}
	for _, c := range Categories {
		s.matchers[c] = newCategoryMatcher(set[c])
	}
	return s
}
