// Package classify decides whether free text is a job post and tags it with
// technology categories. Text-based adapters (Telegram, email) use it;
// structured boards already know their postings are jobs.
package classify

import (
	"strings"
	"unicode"
)

type Rule struct {
	Tag string   `yaml:"tag" json:"tag"`
	Any []string `yaml:"any" json:"any"`
}

type Classifier struct {
	JobKeywords []string
	Categories  []Rule
	BlockAny    []string
}

var DefaultJobKeywords = []string{"hiring", "job", "position", "role", "vacancy", "opening"}

var DefaultCategories = []Rule{
	{Tag: "frontend", Any: []string{"react", "vue", "angular", "javascript", "typescript", "frontend", "front-end", "web developer"}},
	{Tag: "backend", Any: []string{"python", "java", "golang", "nodejs", "backend", "back-end", "ruby", "php"}},
	{Tag: "fullstack", Any: []string{"full stack", "fullstack", "full-stack", "mern", "mean"}},
	{Tag: "mobile", Any: []string{"ios", "android", "react native", "flutter", "mobile developer"}},
	{Tag: "devops", Any: []string{"devops", "aws", "kubernetes", "docker", "ci/cd", "sre"}},
	{Tag: "data", Any: []string{"data scientist", "machine learning", "ml", "ai", "data engineer", "big data"}},
	{Tag: "blockchain", Any: []string{"blockchain", "web3", "smart contract", "solidity", "ethereum"}},
	{Tag: "security", Any: []string{"security engineer", "penetration tester", "security analyst", "cybersecurity"}},
}

// New fills empty settings with the defaults.
func New(jobKeywords []string, categories []Rule, blockAny []string) Classifier {
	c := Classifier{JobKeywords: jobKeywords, Categories: categories, BlockAny: blockAny}
	if len(c.JobKeywords) == 0 {
		c.JobKeywords = DefaultJobKeywords
	}
	if len(c.Categories) == 0 {
		c.Categories = DefaultCategories
	}
	return c
}

// IsJobPost reports whether text mentions any job keyword and no blocked
// term. The second value names the reason for a rejection.
func (c Classifier) IsJobPost(text string) (bool, string) {
	t := newText(text)
	for _, b := range c.BlockAny {
		if t.has(b) {
			return false, "blocked:" + strings.ToLower(strings.TrimSpace(b))
		}
	}
	for _, k := range c.JobKeywords {
		if t.has(k) {
			return true, ""
		}
	}
	return false, "no_job_keyword"
}

// MatchingKeyword returns the first job keyword found in line, or "".
func (c Classifier) MatchingKeyword(line string) string {
	t := newText(line)
	for _, k := range c.JobKeywords {
		if t.has(k) {
			return k
		}
	}
	return ""
}

// Categorize returns the tags of every category with at least one hit, in
// rule order.
func (c Classifier) Categorize(text string) []string {
	t := newText(text)
	var tags []string
	for _, r := range c.Categories {
		for _, needle := range r.Any {
			if t.has(needle) {
				tags = append(tags, r.Tag)
				break
			}
		}
	}
	return uniq(tags)
}

type text struct {
	lower string
	words map[string]bool
}

func newText(s string) text {
	lower := strings.ToLower(s)
	words := map[string]bool{}
	for _, w := range strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		words[w] = true
	}
	return text{lower: lower, words: words}
}

// has matches short needles ("ml", "ai", "ios") as whole words so that
// "email" does not count as "ai"; longer needles match as substrings.
func (t text) has(needle string) bool {
	n := strings.ToLower(strings.TrimSpace(needle))
	if n == "" {
		return false
	}
	if len(n) <= 3 {
		return t.words[n]
	}
	return strings.Contains(t.lower, n)
}

func uniq(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, t := range in {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
