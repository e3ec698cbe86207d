package moderation

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
)

func intPtr(n int) *int { return &n }

func newTestDetector(t *testing.T) *Detector {
	t.Helper()
	return New(Config{}, &KeywordDocument{
		KeywordImageFilter: []string{"扫码", "代理"},
		KeywordMsgFilter:   []string{"加微信", "广告", "VX"},
		RewardKeywords:     []string{"支付宝", "转账成功", "红包", "金额"},
	})
}

func TestClassify_KeywordSubset(t *testing.T) {
	d := newTestDetector(t)

	tests := []struct {
		name string
		text string
		cat  Category
		want []string
	}{
		{"single keyword", "这里有广告", CategoryMessageFilter, []string{"广告"}},
		{"list order not text order", "广告 请加微信", CategoryMessageFilter, []string{"加微信", "广告"}},
		{"repeated keyword reported once", "广告广告广告", CategoryMessageFilter, []string{"广告"}},
		{"image list", "扫码进群找代理", CategoryImageFilter, []string{"扫码", "代理"}},
		{"latin keyword", "add my VX now", CategoryMessageFilter, []string{"VX"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := d.Classify(tt.text, tt.cat)
			if m == nil {
				t.Fatalf("Classify(%q, %s) = nil, want keyword marker", tt.text, tt.cat)
			}
			if m.Kind != MarkerKeyword {
				t.Fatalf("Classify(%q).Kind = %v, want %v", tt.text, m.Kind, MarkerKeyword)
			}
			if !reflect.DeepEqual(m.Keywords, tt.want) {
				t.Errorf("Classify(%q).Keywords = %v, want %v", tt.text, m.Keywords, tt.want)
			}
			if MatchCount(m) != len(tt.want) {
				t.Errorf("MatchCount = %d, want %d", MatchCount(m), len(tt.want))
			}
		})
	}
}

func TestClassify_Clean(t *testing.T) {
	d := newTestDetector(t)

	tests := []struct {
		name string
		text string
		cat  Category
	}{
		{"empty text", "", CategoryMessageFilter},
		{"ordinary chat", "今天天气不错", CategoryMessageFilter},
		{"other category keyword", "支付宝红包", CategoryMessageFilter},
		{"image keyword in message list", "扫码", CategoryMessageFilter},
		{"case sensitive", "add my vx", CategoryMessageFilter},
		{"short number", "room 1234567", CategoryMessageFilter},
		{"long latin text", strings.Repeat("a", 500), CategoryMessageFilter},
		{"reward skips length heuristic", strings.Repeat("字", 300), CategoryReward},
		{"reward skips numeric heuristic", "12345678", CategoryReward},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if m := d.Classify(tt.text, tt.cat); m != nil {
				t.Errorf("Classify(%q, %s) = %v, want nil", tt.text, tt.cat, m)
			}
		})
	}
}

func TestClassify_ExcessLength(t *testing.T) {
	d := newTestDetector(t)

	if m := d.Classify(strings.Repeat("字", 200), CategoryMessageFilter); m != nil {
		t.Errorf("200 Han characters: got %v, want nil", m)
	}

	text := strings.Repeat("字", 201) + strings.Repeat("x", 50)
	m := d.Classify(text, CategoryImageFilter)
	if m == nil || m.Kind != MarkerExcessLength {
		t.Fatalf("201 Han characters: got %v, want excess_length", m)
	}
	if m.Count != 201 {
		t.Errorf("Count = %d, want 201", m.Count)
	}
	if MatchCount(m) != 0 {
		t.Errorf("MatchCount of a length marker = %d, want 0", MatchCount(m))
	}
}

func TestClassify_Priority(t *testing.T) {
	d := newTestDetector(t)

	tests := []struct {
		name string
		text string
		want MarkerKind
	}{
		{"keyword beats length", "广告" + strings.Repeat("字", 300), MarkerKeyword},
		{"keyword beats number", "广告 12345678", MarkerKeyword},
		{"length beats number", strings.Repeat("字", 300) + "12345678", MarkerExcessLength},
		{"number alone", "联系 1380013800", MarkerNumericRun},
		{"phone number", "加我 13800138000", MarkerNumericRun},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := d.Classify(tt.text, CategoryMessageFilter)
			if m == nil {
				t.Fatalf("got nil, want %v", tt.want)
			}
			if m.Kind != tt.want {
				t.Errorf("Kind = %v, want %v", m.Kind, tt.want)
			}
		})
	}
}

func TestDigitRuns(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"eight digits", "12345678", []string{"12345678"}},
		{"ten digits", "a1234567890b", []string{"1234567890"}},
		{"seven digits", "1234567", nil},
		{"eleven digit phone number", "call 13800138000 now", []string{"13800138000"}},
		{"two runs", "12345678 and 987654321", []string{"12345678", "987654321"}},
		{"split by space", "1234 5678", nil},
		{"fullwidth digits ignored", "１２３４５６７８", nil},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := digitRuns(tt.text, DefaultMinDigits)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("digitRuns(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestCheckReward(t *testing.T) {
	d := newTestDetector(t)

	tests := []struct {
		name      string
		text      string
		qualifies bool
		matched   []string
	}{
		{"three keywords", "支付宝 转账成功 金额 100", true, []string{"支付宝", "转账成功", "金额"}},
		{"all four", "支付宝红包转账成功金额", true, []string{"支付宝", "转账成功", "红包", "金额"}},
		{"two keywords", "支付宝红包", false, []string{"支付宝", "红包"}},
		{"nothing", "hello", false, nil},
		{"empty", "", false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := d.CheckReward(tt.text)
			if res.Qualifies != tt.qualifies {
				t.Errorf("Qualifies = %v, want %v", res.Qualifies, tt.qualifies)
			}
			if len(res.Matched) != len(tt.matched) || (len(tt.matched) > 0 && !reflect.DeepEqual(res.Matched, tt.matched)) {
				t.Errorf("Matched = %v, want %v", res.Matched, tt.matched)
			}
			if res.Count != len(tt.matched) {
				t.Errorf("Count = %d, want %d", res.Count, len(tt.matched))
			}
			if res.Required != DefaultMatchCount {
				t.Errorf("Required = %d, want %d", res.Required, DefaultMatchCount)
			}
		})
	}
}

func TestCheckReward_DocumentMatchCount(t *testing.T) {
	d := New(Config{MatchCount: 5}, &KeywordDocument{
		RewardKeywords: []string{"支付宝", "红包"},
		MatchCount:     intPtr(2),
	})
	res := d.CheckReward("支付宝红包")
	if !res.Qualifies || res.Required != 2 {
		t.Errorf("CheckReward = %+v, want qualifying with Required=2", res)
	}

	d = New(Config{MatchCount: 5}, &KeywordDocument{RewardKeywords: []string{"支付宝"}})
	if got := d.MatchCountRequired(); got != 5 {
		t.Errorf("MatchCountRequired = %d, want configured fallback 5", got)
	}
}

func TestKeywordSet_GeneralFallback(t *testing.T) {
	doc := &KeywordDocument{
		AdKeywords:       []string{"兼职", "刷单"},
		AdWords:          []string{"刷单", " 返利 ", ""},
		KeywordMsgFilter: []string{"广告"},
	}
	set := doc.KeywordSet()

	if want := []string{"兼职", "刷单", "返利"}; !reflect.DeepEqual(set[CategoryImageFilter], want) {
		t.Errorf("image-filter = %v, want general set %v", set[CategoryImageFilter], want)
	}
	if want := []string{"广告"}; !reflect.DeepEqual(set[CategoryMessageFilter], want) {
		t.Errorf("message-filter = %v, want own list %v", set[CategoryMessageFilter], want)
	}
	if len(set[CategoryReward]) != 0 {
		t.Errorf("reward = %v, want empty (general set never applies)", set[CategoryReward])
	}
}

func TestParseDocument(t *testing.T) {
	jsonDoc := `{"ad_keywords":["a"],"matchCount":4,"keywordMsgFilter":["b"],"rewardKeywords":["c"]}`
	yamlDoc := "ad_keywords: [a]\nmatchCount: 4\nkeywordMsgFilter: [b]\nrewardKeywords: [c]\n"

	tests := []struct {
		name   string
		input  string
		format Format
	}{
		{"json", jsonDoc, FormatJSON},
		{"yaml", yamlDoc, FormatYAML},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := ParseDocument(strings.NewReader(tt.input), tt.format)
			if err != nil {
				t.Fatalf("ParseDocument error: %v", err)
			}
			if doc.MatchCount == nil || *doc.MatchCount != 4 {
				t.Errorf("MatchCount = %v, want 4", doc.MatchCount)
			}
			if !reflect.DeepEqual(doc.KeywordMsgFilter, []string{"b"}) {
				t.Errorf("KeywordMsgFilter = %v", doc.KeywordMsgFilter)
			}
		})
	}
}

func TestParseDocument_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"truncated json", `{"ad_keywords": [`},
		{"wrong type", `{"rewardKeywords": "not-a-list"}`},
		{"zero match count", `{"matchCount": 0}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDocument(strings.NewReader(tt.input), FormatJSON)
			if !errors.Is(err, ErrConfigLoad) {
				t.Errorf("error = %v, want ErrConfigLoad", err)
			}
		})
	}
}

func TestFormatForPath(t *testing.T) {
	cases := map[string]Format{
		"keywords.json": FormatJSON,
		"keywords.yaml": FormatYAML,
		"keywords.YML":  FormatYAML,
		"keywords":      FormatJSON,
	}
	for path, want := range cases {
		if got := FormatForPath(path); got != want {
			t.Errorf("FormatForPath(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestReload(t *testing.T) {
	dir := t.TempDir()
	d := newTestDetector(t)

	good := filepath.Join(dir, "keywords.json")
	if err := os.WriteFile(good, []byte(`{"keywordMsgFilter":["新词"]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := d.Reload(good); err != nil {
		t.Fatalf("Reload(valid) error: %v", err)
	}
	if got := d.Keywords(CategoryMessageFilter); !reflect.DeepEqual(got, []string{"新词"}) {
		t.Fatalf("message-filter after reload = %v", got)
	}
	if m := d.Classify("广告", CategoryMessageFilter); m != nil {
		t.Errorf("old keyword still matches after reload: %v", m)
	}

	bad := filepath.Join(dir, "broken.json")
	if err := os.WriteFile(bad, []byte(`{"keywordMsgFilter":`), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, path := range []string{bad, filepath.Join(dir, "missing.json")} {
		err := d.Reload(path)
		if !errors.Is(err, ErrConfigLoad) {
			t.Errorf("Reload(%s) error = %v, want ErrConfigLoad", path, err)
		}
		if got := d.Keywords(CategoryMessageFilter); !reflect.DeepEqual(got, []string{"新词"}) {
			t.Errorf("lists changed after failed reload: %v", got)
		}
	}
}

func TestKeywords_ReturnsCopy(t *testing.T) {
	d := newTestDetector(t)
	words := d.Keywords(CategoryMessageFilter)
	words[0] = "mutated"
	if d.Keywords(CategoryMessageFilter)[0] == "mutated" {
		t.Error("Keywords exposed the snapshot's backing array")
	}
}

func TestReload_ConcurrentClassify(t *testing.T) {
	d := newTestDetector(t)
	docs := []string{
		`{"keywordMsgFilter":["广告"]}`,
		`{"keywordMsgFilter":["广告","加微信"]}`,
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				m := d.Classify("广告", CategoryMessageFilter)
				if m == nil || m.Keywords[0] != "广告" {
					t.Errorf("Classify saw a partial snapshot: %v", m)
					return
				}
			}
		}()
	}
	for j := 0; j < 50; j++ {
		if err := d.ReloadFrom(strings.NewReader(docs[j%2]), FormatJSON); err != nil {
			t.Fatalf("ReloadFrom error: %v", err)
		}
	}
	wg.Wait()
}

func TestMarkerString(t *testing.T) {
	tests := []struct {
		m    *Marker
		want string
	}{
		{nil, "none"},
		{&Marker{Kind: MarkerKeyword, Keywords: []string{"a", "b"}}, "keyword[a b]"},
		{&Marker{Kind: MarkerExcessLength, Count: 250}, "excess_length(250)"},
		{&Marker{Kind: MarkerNumericRun, Numbers: []string{"12345678"}}, "numeric_run[12345678]"},
	}
	for _, tt := range tests {
		if got := tt.m.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
