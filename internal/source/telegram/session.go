package telegram

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"jobfeed-engine/internal/errors"
	"jobfeed-engine/internal/source/tgtext"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/flock"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"go.uber.org/zap"
)

// Run owns the MTProto connection until ctx is done. The session file is
// guarded by an exclusive file lock so a second engine process cannot
// reuse (and invalidate) the same session. Transient connection failures
// are retried with backoff; an unauthorized session is reported through
// Fetch until restart.
func (a *Adapter) Run(ctx context.Context) error {
	lock := flock.New(a.cfg.LockPath)
	locked, err := lock.TryLock()
	if err != nil {
		a.setState(false, errors.Configuration("lock telegram session", err))
		<-ctx.Done()
		return nil
	}
	if !locked {
		a.setState(false, errors.Configuration("telegram session "+a.cfg.SessionPath+" is held by another process", nil))
		<-ctx.Done()
		return nil
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			a.logger.Warn("unlock telegram session", zap.Error(err))
		}
	}()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.MaxInterval = 2 * time.Minute
	bo.MaxElapsedTime = 0

	for {
		started := time.Now()
		err := a.session(ctx)
		if ctx.Err() != nil {
			a.setState(false, nil)
			a.logger.Info("telegram session closed")
			return nil
		}
		if errors.TypeOf(err) == errors.ErrTypeInternal {
			err = errors.TransientFetch("telegram session", err)
		}
		a.setState(false, err)

		if errors.IsConfiguration(err) {
			a.logger.Error("telegram session unusable", zap.Error(err))
			<-ctx.Done()
			return nil
		}
		if time.Since(started) > bo.MaxInterval {
			bo.Reset()
		}
		wait := bo.NextBackOff()
		a.logger.Warn("telegram session dropped, reconnecting",
			zap.Error(err),
			zap.Duration("retry_in", wait))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (a *Adapter) session(ctx context.Context) error {
	dispatcher := tg.NewUpdateDispatcher()
	dispatcher.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		a.handle(ctx, e, u.Message)
		return nil
	})

	client := telegram.NewClient(a.cfg.AppID, a.cfg.AppHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: a.cfg.SessionPath},
		UpdateHandler:  dispatcher,
		Logger:         a.logger.Named("gotd"),
	})

	return client.Run(ctx, func(ctx context.Context) error {
		status, err := client.Auth().Status(ctx)
		if err != nil {
			return errors.TransientFetch("telegram auth status", err)
		}
		if !status.Authorized {
			return errors.Configuration("telegram session is not authorized", nil)
		}
		// Any API call subscribes the connection to updates.
		if _, err := client.API().UpdatesGetState(ctx); err != nil {
			return errors.TransientFetch("telegram updates state", err)
		}

		a.connect(true, apiHistory{api: client.API()}, nil)
		a.logger.Info("telegram session connected", zap.Int("channels", len(a.allow)))
		<-ctx.Done()
		return ctx.Err()
	})
}

func (a *Adapter) handle(ctx context.Context, e tg.Entities, mc tg.MessageClass) {
	m, ok := toMessage(mc, e.Channels)
	if !ok || !a.wanted(m.ChannelID, m.Channel) {
		return
	}
	a.enqueue(ctx, m)
}

func toMessage(mc tg.MessageClass, channels map[int64]*tg.Channel) (tgtext.Message, bool) {
	msg, ok := mc.(*tg.Message)
	if !ok {
		return tgtext.Message{}, false
	}
	peer, ok := msg.PeerID.(*tg.PeerChannel)
	if !ok {
		return tgtext.Message{}, false
	}

	m := tgtext.Message{
		ChannelID: peer.ChannelID,
		ID:        msg.ID,
		Text:      msg.Message,
		Date:      time.Unix(int64(msg.Date), 0).UTC(),
	}
	if ch, ok := channels[peer.ChannelID]; ok && ch != nil {
		m.Channel = ch.Username
		m.ChannelTitle = ch.Title
	}
	if v, ok := msg.GetViews(); ok {
		m.Views = v
	}
	if f, ok := msg.GetForwards(); ok {
		m.Forwards = f
	}
	return m, true
}

// apiHistory reads channel history over the live session.
type apiHistory struct {
	api *tg.Client
}

func (h apiHistory) History(ctx context.Context, channel string, seen Cursor, limit int) ([]tgtext.Message, error) {
	res, err := h.api.ContactsResolveUsername(ctx, channel)
	if err != nil {
		if tgerr.Is(err, "USERNAME_NOT_OCCUPIED", "USERNAME_INVALID") {
			return nil, errors.Configuration("telegram channel @"+channel+" does not exist", err)
		}
		return nil, err
	}
	peer, ok := res.Peer.(*tg.PeerChannel)
	if !ok {
		return nil, errors.Configuration("telegram @"+channel+" is not a channel", nil)
	}
	channels := tg.ChatClassArray(res.Chats).ChannelToMap()
	ch, ok := channels[peer.ChannelID]
	if !ok {
		return nil, fmt.Errorf("resolve @%s: channel %d missing from response", channel, peer.ChannelID)
	}

	out, err := h.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  ch.AsInputPeer(),
		MinID: seen[strconv.FormatInt(ch.ID, 10)],
		Limit: limit,
	})
	if err != nil {
		return nil, err
	}
	mod, ok := out.AsModified()
	if !ok {
		return nil, nil
	}
	var msgs []tgtext.Message
	for _, mc := range mod.GetMessages() {
		if m, ok := toMessage(mc, channels); ok {
			msgs = append(msgs, m)
		}
	}
	return msgs, nil
}
