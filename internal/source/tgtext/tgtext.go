// Package tgtext turns the free text of a Telegram channel post into a
// canonical posting. It is shared by the MTProto and web-preview adapters.
package tgtext

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"jobfeed-engine/internal/classify"
	"jobfeed-engine/internal/domain"
	"jobfeed-engine/internal/errors"
	"jobfeed-engine/internal/source/util"
)

type Message struct {
	Channel      string // public username, may be empty
	ChannelID    int64
	ChannelTitle string
	ID           int
	Text         string
	Date         time.Time
	Views        int
	Forwards     int
}

// Key identifies the channel, preferring the numeric id which survives
// username changes.
func (m Message) Key() string {
	if m.ChannelID != 0 {
		return strconv.FormatInt(m.ChannelID, 10)
	}
	return strings.ToLower(m.Channel)
}

func (m Message) Permalink() string {
	if m.Channel == "" || m.ID == 0 {
		return ""
	}
	return fmt.Sprintf("https://t.me/%s/%d", m.Channel, m.ID)
}

type Parser struct {
	Classifier classify.Classifier
}

var (
	reCompany  = regexp.MustCompile(`(?i)(?:\bat\b|\bcompany\b\s*:?)\s*([A-Za-z0-9][A-Za-z0-9 &.\-]*?(?:\s(?:Inc\.?|LLC|Ltd\.?|Limited|Corp\.?|Corporation))?)\s*(?:[,.;!\n(]|$)`)
	reLocation = regexp.MustCompile(`(?i)(?:\blocation\b|\bbased in\b)\s*:?\s*([A-Za-z0-9][A-Za-z0-9 ,\-]*)`)
	reSalary   = regexp.MustCompile(`(?i)(?:\bsalary\b|\bcompensation\b|\bpay\b)\s*:?\s*([^\n]+)`)
	reAmount   = regexp.MustCompile(`(\d[\d,]*(?:\.\d+)?)\s*([kK])?`)
)

const (
	maxTitle = 255
	maxField = 255
	maxDesc  = 20000
)

// Parse returns the posting for m. ok is false for messages that are not
// job posts, including media posts without a caption; err is a
// MalformedPayload error for messages that cannot be turned into a posting
// at all.
func (p Parser) Parse(sourceID string, m Message) (post domain.Posting, ok bool, err error) {
	if m.ID == 0 {
		return post, false, errors.MalformedPayload("telegram message without id", nil)
	}
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return post, false, nil
	}
	if keep, _ := p.Classifier.IsJobPost(text); !keep {
		return post, false, nil
	}

	title := p.title(text)
	location := extractLocation(text)
	min, max := extractSalary(text)

	raw, _ := json.Marshal(map[string]any{
		"channel":       m.Channel,
		"channel_id":    m.ChannelID,
		"channel_title": m.ChannelTitle,
		"message_id":    m.ID,
		"date":          m.Date.UTC().Format(time.RFC3339),
		"views":         m.Views,
		"forwards":      m.Forwards,
		"text":          text,
	})

	post = domain.Posting{
		SourceID:     sourceID,
		ExternalID:   fmt.Sprintf("%s/%d", m.Key(), m.ID),
		Title:        title,
		Organization: extractCompany(text),
		Location:     location,
		Description:  util.Clip(text, maxDesc),
		URL:          m.Permalink(),
		WorkMode:     util.InferWorkMode(location, title, text),
		Tags:         p.Classifier.Categorize(text),
		SalaryMin:    min,
		SalaryMax:    max,
		Raw:          raw,
	}
	if !m.Date.IsZero() {
		d := m.Date.UTC()
		post.PostedAt = &d
	}
	return post, true, nil
}

// title is the first line mentioning a job keyword, else the first line.
func (p Parser) title(text string) string {
	var first string
	for _, line := range strings.Split(text, "\n") {
		line = util.CleanText(line)
		if line == "" {
			continue
		}
		if first == "" {
			first = line
		}
		if p.Classifier.MatchingKeyword(line) != "" {
			return util.Clip(line, maxTitle)
		}
	}
	return util.Clip(first, maxTitle)
}

func extractCompany(text string) string {
	m := reCompany.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	// A sentence-ending period after "Corp." or "Inc." is part of the
	// match; the name is stored without it either way.
	name := strings.TrimRight(util.CleanText(m[1]), ". ")
	return util.Clip(name, maxField)
}

func extractLocation(text string) string {
	if loc := util.ExtractLabeledLocation(text); loc != "" {
		return util.Clip(util.NormalizeLocation(loc), maxField)
	}
	if m := reLocation.FindStringSubmatch(text); m != nil {
		return util.Clip(util.NormalizeLocation(m[1]), maxField)
	}
	return ""
}

// extractSalary reads the amounts after a salary label. A single amount is
// the minimum; with two or more the last one is the maximum. "120k" means
// 120000.
func extractSalary(text string) (min, max *float64) {
	m := reSalary.FindStringSubmatch(text)
	if m == nil {
		return nil, nil
	}
	var amounts []float64
	for _, a := range reAmount.FindAllStringSubmatch(m[1], -1) {
		v, err := strconv.ParseFloat(strings.ReplaceAll(a[1], ",", ""), 64)
		if err != nil {
			continue
		}
		if a[2] != "" {
			v *= 1000
		}
		amounts = append(amounts, v)
	}
	if len(amounts) == 0 {
		return nil, nil
	}
	lo := amounts[0]
	min = &lo
	if len(amounts) > 1 {
		hi := amounts[len(amounts)-1]
		max = &hi
	}
	return min, max
}
