package moderation

import "unicode"

// check pairs a detection function with the name used for reporting.
type check struct {
	name   string
	detect func(d *Detector, snap *snapshot, text string, cat Category) *Marker
}

// filterChecks is the ordered list applied to the filter categories.
// Order matters: the first match wins.
var filterChecks = []check{
	{name: "keyword", detect: detectKeywords},
	{name: "excess_length", detect: detectExcessLength},
	{name: "numeric_run", detect: detectNumericRun},
}

// rewardChecks only looks at keywords; length and digit heuristics make no
// sense for a reward screenshot.
var rewardChecks = []check{
	{name: "keyword", detect: detectKeywords},
}

func checksFor(cat Category) []check {
	if cat == CategoryReward {
		return rewardChecks
	}
	return filterChecks
}

func detectKeywords(_ *Detector, snap *snapshot, text string, cat Category) *Marker {
	matched := snap.matchers[cat].match(text)
	if len(matched) == 0 {
		return nil
	}
	return &Marker{Kind: MarkerKeyword, Keywords: matched}
}

// detectExcessLength counts runes belonging to the watched script. Other
// characters (latin, digits, punctuation, emoji) do not count.
func detectExcessLength(d *Detector, _ *snapshot, text string, _ Category) *Marker {
	if d.lengthThreshold <= 0 {
		return nil
	}
	n := countScript(text, d.script)
	if n <= d.lengthThreshold {
		return nil
	}
	return &Marker{Kind: MarkerExcessLength, Count: n}
}

func countScript(text string, script *unicode.RangeTable) int {
	n := 0
	for _, r := range text {
		if unicode.Is(script, r) {
			n++
		}
	}
	return n
}

// detectNumericRun reports maximal ASCII digit runs of at least minDigits.
// Any such run holds an 8 to 10 digit window, so an 11-digit phone number
// qualifies as a whole.
func detectNumericRun(d *Detector, _ *snapshot, text string, _ Category) *Marker {
	runs := digitRuns(text, d.minDigits)
	if len(runs) == 0 {
		return nil
	}
	return &Marker{Kind: MarkerNumericRun, Numbers: runs}
}

// digitRuns returns the maximal digit runs of at least minLen bytes.
func digitRuns(text string, minLen int) []string {
	var runs []string
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		if end-start >= minLen {
			runs = append(runs, text[start:end])
		}
		start = -1
	}
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c >= '0' && c <= '9' {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(text))
	return runs
}
