package telegram

import (
	"sort"
	"strconv"
	"strings"

	"jobfeed-engine/internal/source/tgtext"
)

// Cursor is the highest committed message id per channel key, encoded as
// "key:id,key:id".
type Cursor map[string]int

func ParseCursor(s string) Cursor {
	c := Cursor{}
	for _, part := range strings.Split(s, ",") {
		key, id, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok || key == "" {
			continue
		}
		n, err := strconv.Atoi(id)
		if err != nil || n <= 0 {
			continue
		}
		if n > c[key] {
			c[key] = n
		}
	}
	return c
}

func (c Cursor) String() string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+":"+strconv.Itoa(c[k]))
	}
	return strings.Join(parts, ",")
}

// Covers reports whether m is at or below the committed id of its channel.
func (c Cursor) Covers(m tgtext.Message) bool {
	return m.ID <= c[m.Key()]
}

func (c Cursor) advance(m tgtext.Message) {
	if k := m.Key(); m.ID > c[k] {
		c[k] = m.ID
	}
}

func (c Cursor) clone() Cursor {
	out := make(Cursor, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
