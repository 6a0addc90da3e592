package main

import (
	"context"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
)

// discordSource is the endpoint identity of the chat channel.
const discordSource = "Discord"

type DiscordAdapter struct {
	session   *discordgo.Session
	channelID string
	kinds     kindFilter
	inbound   chan Event
	logger    *slog.Logger
}

func NewDiscordAdapter(token, channelID string, kinds kindFilter, logger *slog.Logger) (*DiscordAdapter, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, errors.Wrap(err, "discordgo session")
	}

	dc := &DiscordAdapter{
		session:   session,
		channelID: channelID,
		kinds:     kinds,
		inbound:   make(chan Event, 100),
		logger:    logger.With("channel", channelID),
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentMessageContent
	session.AddHandler(dc.onMessage)

	return dc, nil
}

func (dc *DiscordAdapter) Name() string { return discordSource }

func (dc *DiscordAdapter) Open(ctx context.Context) error {
	if err := dc.session.Open(); err != nil {
		return errors.Wrap(err, "discord open")
	}
	dc.logger.InfoContext(ctx, "discord bot connected", "user", dc.session.State.User.Username)
	return nil
}

// Listen forwards channel messages until ctx is done. The gateway
// reconnects on its own, so the stream only ends with the adapter.
func (dc *DiscordAdapter) Listen(ctx context.Context, emit func(Event)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-dc.inbound:
			emit(event)
		}
	}
}

func (dc *DiscordAdapter) Send(ctx context.Context, event Event) error {
	if !dc.kinds.allows(event.Kind) {
		return nil
	}

	_, err := dc.session.ChannelMessageSendComplex(dc.channelID, &discordgo.MessageSend{
		Content: renderChatLine(event),
		// Game chat must not be able to ping the guild.
		AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return errors.Wrap(err, "send to Discord")
	}
	return nil
}

func (dc *DiscordAdapter) Close() error {
	return errors.WithStack(dc.session.Close())
}

func (dc *DiscordAdapter) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	var selfID string
	if s != nil && s.State != nil && s.State.User != nil {
		selfID = s.State.User.ID
	}
	event, ok := dc.toEvent(m, selfID)
	if !ok {
		return
	}
	select {
	case dc.inbound <- event:
	default:
		dc.logger.Warn("inbound queue full, dropping discord message", "author", event.Actor)
	}
}

// toEvent keeps messages posted to the relay channel by anyone but the bot
// itself, identified by selfID.
func (dc *DiscordAdapter) toEvent(m *discordgo.MessageCreate, selfID string) (Event, bool) {
	if m.Message == nil || m.Author == nil {
		return Event{}, false
	}
	if m.ChannelID != dc.channelID {
		return Event{}, false
	}
	if m.Author.ID == selfID {
		return Event{}, false
	}

	body := m.Content
	if body == "" {
		urls := make([]string, 0, len(m.Attachments))
		for _, a := range m.Attachments {
			urls = append(urls, a.URL)
		}
		body = strings.Join(urls, " ")
	}
	if body == "" {
		return Event{}, false
	}

	author := m.Author.GlobalName
	if author == "" {
		author = m.Author.Username
	}
	return NewMessage(discordSource, author, body), true
}
