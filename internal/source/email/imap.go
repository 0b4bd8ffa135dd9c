package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/mail"
	"sort"
	"strings"
	"time"

	"jobfeed-engine/internal/errors"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// Message is one mailbox entry as read over IMAP.
type Message struct {
	UID     uint32
	From    string
	Subject string
	Date    time.Time

	// Raw is the full RFC822 message, fetched with BODY.PEEK[] so the
	// mailbox flags are left untouched.
	Raw []byte
}

// mailbox is the IMAP side of the adapter; tests replace it.
type mailbox interface {
	// Since returns the mailbox UIDVALIDITY and up to max messages with a
	// UID greater than after, oldest first.
	Since(ctx context.Context, after uint32, max int) (uint32, []Message, error)
}

type imapMailbox struct {
	cfg Config
}

func dialAndLogin(ctx context.Context, cfg Config) (*imapclient.Client, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, ServerName: cfg.host()}
	c, err := imapclient.DialTLS(cfg.Addr, &imapclient.Options{TLSConfig: tlsCfg})
	if err != nil {
		return nil, errors.TransientFetch("imap dial "+cfg.Addr, err)
	}

	go func() {
		<-ctx.Done()
		_ = c.Close()
	}()

	if err := c.Login(cfg.Username, cfg.Password).Wait(); err != nil {
		_ = c.Close()
		// A rejected login does not clear by retrying.
		var imapErr *imap.Error
		if errors.As(err, &imapErr) {
			return nil, errors.Configuration("imap login "+cfg.Username, err)
		}
		return nil, errors.TransientFetch("imap login", err)
	}
	return c, nil
}

func (m imapMailbox) Since(ctx context.Context, after uint32, max int) (uint32, []Message, error) {
	c, err := dialAndLogin(ctx, m.cfg)
	if err != nil {
		return 0, nil, err
	}
	defer func() {
		_ = c.Logout().Wait()
		_ = c.Close()
	}()

	sel, err := c.Select(m.cfg.Mailbox, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return 0, nil, errors.Configuration(fmt.Sprintf("imap select %q", m.cfg.Mailbox), err)
	}

	criteria := &imap.SearchCriteria{
		UID: []imap.UIDSet{{imap.UIDRange{Start: imap.UID(after + 1), Stop: 0}}},
	}
	if m.cfg.Lookback > 0 {
		criteria.Since = time.Now().Add(-m.cfg.Lookback)
	}
	data, err := c.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return 0, nil, errors.TransientFetch("imap uid search", err)
	}

	// "n:*" always matches the newest message, even below n.
	var uids []imap.UID
	for _, uid := range data.AllUIDs() {
		if uint32(uid) > after {
			uids = append(uids, uid)
		}
	}
	if len(uids) == 0 {
		return sel.UIDValidity, nil, nil
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if len(uids) > max {
		uids = uids[:max]
	}

	bodyAll := &imap.FetchItemBodySection{Specifier: imap.PartSpecifierNone, Peek: true}
	fetchCmd := c.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:         true,
		Envelope:    true,
		BodySection: []*imap.FetchItemBodySection{bodyAll},
	})
	defer func() { _ = fetchCmd.Close() }()

	out := make([]Message, 0, len(uids))
	for {
		if err := ctx.Err(); err != nil {
			return 0, nil, errors.TransientFetch("imap fetch cancelled", err)
		}
		msgData := fetchCmd.Next()
		if msgData == nil {
			break
		}
		buf, err := msgData.Collect()
		if err != nil {
			return 0, nil, errors.TransientFetch("imap fetch collect", err)
		}

		em := Message{UID: uint32(buf.UID)}
		if buf.Envelope != nil {
			em.Subject = buf.Envelope.Subject
			em.Date = buf.Envelope.Date
			em.From = joinAddrs(buf.Envelope.From)
		}
		if b := buf.FindBodySection(bodyAll); b != nil {
			em.Raw = append([]byte(nil), b...)
		}
		if (em.Subject == "" || em.From == "" || em.Date.IsZero()) && len(em.Raw) > 0 {
			subj, from, date := parseHeadersFallback(em.Raw)
			if em.Subject == "" {
				em.Subject = subj
			}
			if em.From == "" {
				em.From = from
			}
			if em.Date.IsZero() {
				em.Date = date
			}
		}
		out = append(out, em)
	}
	if err := fetchCmd.Close(); err != nil {
		return 0, nil, errors.TransientFetch("imap fetch", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return sel.UIDValidity, out, nil
}

func joinAddrs(addrs []imap.Address) string {
	parts := make([]string, 0, len(addrs))
	for i := range addrs {
		a := &addrs[i]
		addr := strings.TrimSpace(a.Addr())
		name := strings.TrimSpace(a.Name)
		switch {
		case name != "" && addr != "":
			parts = append(parts, fmt.Sprintf("%s <%s>", name, addr))
		case addr != "":
			parts = append(parts, addr)
		case name != "":
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, ", ")
}

func parseHeadersFallback(raw []byte) (subject, from string, date time.Time) {
	msg, err := mail.ReadMessage(strings.NewReader(string(raw)))
	if err != nil {
		return "", "", time.Time{}
	}
	h := msg.Header
	subject = h.Get("Subject")
	from = h.Get("From")
	if ds := h.Get("Date"); ds != "" {
		if t, err := mail.ParseDate(ds); err == nil {
			date = t
		}
	}
	_, _ = io.Copy(io.Discard, msg.Body)
	return subject, from, date
}
