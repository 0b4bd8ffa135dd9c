package email

import (
	"regexp"
	"strings"

	"jobfeed-engine/internal/source/util"
)

var (
	// “golang”: Acme - Backend Engineer - Remote and more
	reQuotedKwCompanyTitleTail = regexp.MustCompile(`^[“"](.*?)[”"]:\s*(.*?)\s*-\s*(.*?)\s*-\s*(.*)$`)
	// Acme and others are hiring for Backend Engineer in and around Berlin
	reHiringForInAround = regexp.MustCompile(`^(.*?)\s+and\s+others\s+are\s+hiring\s+for\s+(.*?)\s+in\s+(?:and\s+around\s+)?(.*)$`)
	// Acme is hiring for Backend Engineer in Berlin
	reHiringForIn = regexp.MustCompile(`^(.*?)\s+is\s+hiring\s+for\s+(.*?)\s+in\s+(.*)$`)
	// Acme - Backend Engineer - Berlin
	reCompanyTitleLocationDash = regexp.MustCompile(`^(.*?)\s*-\s*(.*?)\s*-\s*(.*)$`)
)

type subjectFields struct {
	Company  string
	Title    string
	Location string
}

// parseSubject pulls company, title and location out of the common job
// alert subject formats. Unknown formats keep the subject as the title.
func parseSubject(subj string) subjectFields {
	subj = stripReplyPrefixes(util.CleanText(subj))
	if subj == "" {
		return subjectFields{}
	}
	if m := reQuotedKwCompanyTitleTail.FindStringSubmatch(subj); m != nil {
		return subjectFields{Company: m[2], Title: m[3], Location: cleanLocation(m[4])}
	}
	for _, re := range []*regexp.Regexp{reHiringForInAround, reHiringForIn, reCompanyTitleLocationDash} {
		if m := re.FindStringSubmatch(subj); m != nil {
			return subjectFields{Company: strings.TrimSpace(m[1]), Title: strings.TrimSpace(m[2]), Location: cleanLocation(m[3])}
		}
	}
	return subjectFields{Title: subj}
}

func stripReplyPrefixes(s string) string {
	for {
		low := strings.ToLower(s)
		trimmed := false
		for _, p := range []string{"fwd:", "fw:", "re:"} {
			if strings.HasPrefix(low, p) {
				s = strings.TrimSpace(s[len(p):])
				trimmed = true
				break
			}
		}
		if !trimmed {
			return s
		}
	}
}

// cleanLocation drops "and more" tails and bare work modes, which are not
// places.
func cleanLocation(loc string) string {
	loc = strings.TrimSpace(loc)
	if i := strings.Index(strings.ToLower(loc), "and more"); i >= 0 {
		loc = loc[:i]
	}
	loc = strings.Trim(strings.TrimSpace(loc), ".,")
	switch strings.ToLower(loc) {
	case "remote", "hybrid", "on-site", "onsite":
		return ""
	}
	return util.NormalizeLocation(loc)
}

// guessCompanyFromFrom uses the display name of the sender, else the first
// label of the sender domain.
func guessCompanyFromFrom(from string) string {
	from = strings.TrimSpace(from)
	if from == "" {
		return ""
	}
	if i := strings.Index(from, "<"); i > 0 {
		if name := strings.Trim(strings.TrimSpace(from[:i]), `"`); name != "" {
			return name
		}
	}
	if at := strings.LastIndex(from, "@"); at >= 0 {
		d := strings.Trim(from[at+1:], "> ")
		if label := strings.Split(d, ".")[0]; label != "" {
			return strings.ToUpper(label[:1]) + label[1:]
		}
	}
	return ""
}
