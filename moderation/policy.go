// Package moderation classifies message text before it reaches a room.
// The keyword policy is a deterministic, total function of the input;
// the same text always yields the same verdict and reason.
package moderation

import (
	"fmt"
	"strings"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"

	"chat-relay/errors"
)

type Verdict string

const (
	VerdictAllow Verdict = "allow"
	VerdictFlag  Verdict = "flag"
	VerdictBlock Verdict = "block"
)

const (
	MethodKeyword    = "keyword"
	MethodClassifier = "classifier"
)

type Result struct {
	Verdict    Verdict
	Reason     string
	Confidence float64
	Method     string
	Language   string
}

func (r Result) Blocked() bool { return r.Verdict == VerdictBlock }
func (r Result) Flagged() bool { return r.Verdict == VerdictFlag }

// DefaultOffTopicKeywords and DefaultStudyKeywords suit study-focused
// rooms; both sets are configurable.
var DefaultOffTopicKeywords = []string{
	"politics", "political", "election", "vote", "party",
	"religion", "religious", "god", "church", "mosque", "temple",
	"hate", "racist", "sexist", "offensive",
	"spam", "advertisement", "buy now", "click here",
	"profanity", "curse", "swear",
}

var DefaultStudyKeywords = []string{
	"code", "programming", "syntax", "function", "variable",
	"algorithm", "debug", "error", "help", "question",
	"learn", "study", "tutorial", "example", "documentation",
}

// Policy is the keyword verdict function. Both keyword sets are matched
// case-insensitively as substrings, using one Aho-Corasick automaton per set.
type Policy struct {
	offTopic *goahocorasick.Machine
	study    *goahocorasick.Machine
}

func NewPolicy(offTopicKeywords, studyKeywords []string) (*Policy, error) {
	offTopic, err := buildMachine(offTopicKeywords)
	if err != nil {
		return nil, fmt.Errorf("off-topic keywords: %w", err)
	}
	study, err := buildMachine(studyKeywords)
	if err != nil {
		return nil, fmt.Errorf("study keywords: %w", err)
	}
	return &Policy{offTopic: offTopic, study: study}, nil
}

func buildMachine(keywords []string) (*goahocorasick.Machine, error) {
	if len(keywords) == 0 {
		return nil, errors.ErrNoKeywords
	}
	patterns := make([][]rune, len(keywords))
	for i, keyword := range keywords {
		patterns[i] = []rune(strings.ToLower(keyword))
	}
	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, err
	}
	return m, nil
}

// Moderate classifies text for a room. The block check runs first and
// short-circuits; among flag conditions, the first match wins.
func (p *Policy) Moderate(text, room string) Result {
	_ = room // room context is only meaningful to remote classifiers

	lower := []rune(strings.ToLower(text))
	offTopic := distinctMatches(p.offTopic, lower)
	study := distinctMatches(p.study, lower)

	if len(offTopic) >= 2 {
		return Result{
			Verdict:    VerdictBlock,
			Reason:     fmt.Sprintf("Contains off-topic content: %s", strings.Join(offTopic, ", ")),
			Confidence: 0.8,
			Method:     MethodKeyword,
		}
	}

	if len(offTopic) == 1 && len(study) == 0 {
		return Result{
			Verdict:    VerdictFlag,
			Reason:     fmt.Sprintf("May be off-topic: mentions %q", offTopic[0]),
			Confidence: 0.6,
			Method:     MethodKeyword,
		}
	}

	if flag, ok := degenerateText(text); ok {
		return flag
	}

	reason := "Appears appropriate"
	confidence := 0.7
	if len(study) > 0 {
		reason = fmt.Sprintf("Study-related: %s", strings.Join(study[:min(2, len(study))], ", "))
		confidence = 0.9
	}
	return Result{
		Verdict:    VerdictAllow,
		Reason:     reason,
		Confidence: confidence,
		Method:     MethodKeyword,
	}
}

// degenerateText covers the spam-shaped flag conditions, in precedence
// order: too short, shouting, repeated characters.
func degenerateText(text string) (Result, bool) {
	runes := []rune(text)

	if len([]rune(strings.TrimSpace(text))) < 3 && !hasAlphanumeric(runes) {
		return Result{
			Verdict:    VerdictFlag,
			Reason:     "Message too short or invalid",
			Confidence: 0.7,
			Method:     MethodKeyword,
		}, true
	}

	if len(runes) > 10 && uppercaseRatio(runes) > 0.7 {
		return Result{
			Verdict:    VerdictFlag,
			Reason:     "Excessive capitalization detected",
			Confidence: 0.6,
			Method:     MethodKeyword,
		}, true
	}

	if longestRun(runes) >= 6 {
		return Result{
			Verdict:    VerdictFlag,
			Reason:     "Repeated character spam detected",
			Confidence: 0.8,
			Method:     MethodKeyword,
		}, true
	}

	return Result{}, false
}

// distinctMatches returns each matched keyword once, in first-occurrence
// order over the text, which keeps reasons deterministic.
func distinctMatches(m *goahocorasick.Machine, lower []rune) []string {
	if len(lower) == 0 {
		return nil
	}
	terms := m.MultiPatternSearch(lower, false)
	seen := make(map[string]struct{}, len(terms))
	var matches []string
	for _, term := range terms {
		word := string(term.Word)
		if _, ok := seen[word]; ok {
			continue
		}
		seen[word] = struct{}{}
		matches = append(matches, word)
	}
	return matches
}

func hasAlphanumeric(runes []rune) bool {
	for _, r := range runes {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}

func uppercaseRatio(runes []rune) float64 {
	var upper int
	for _, r := range runes {
		if unicode.IsUpper(r) {
			upper++
		}
	}
	return float64(upper) / float64(len(runes))
}

func longestRun(runes []rune) int {
	longest, run := 0, 0
	var prev rune
	for i, r := range runes {
		if i > 0 && r == prev {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
		prev = r
	}
	return longest
}
