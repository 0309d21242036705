package bot

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
)

// ImageFetcher loads image bytes for attachments.
type ImageFetcher interface {
	Fetch(ctx context.Context, id string) ([]byte, string, error)
}

var discordMention = regexp.MustCompile(`<@!?(\d+)>`)

// Discord bridges guild text channels to the router. A guild is a group.
type Discord struct {
	router  *Router
	images  ImageFetcher
	log     *slog.Logger
	session *discordgo.Session

	ctx context.Context
}

func NewDiscord(token string, router *Router, fetcher ImageFetcher, logger *slog.Logger) (*Discord, error) {
	if logger == nil {
		logger = slog.Default()
	}
	session, err := discordgo.New("Bot " + strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentMessageContent | discordgo.IntentsGuildMembers
	d := &Discord{
		router:  router,
		images:  fetcher,
		log:     logger.With("transport", "discord"),
		session: session,
		ctx:     context.Background(),
	}
	session.AddHandler(d.onMessage)
	return d, nil
}

// Run connects and blocks until ctx is done.
func (d *Discord) Run(ctx context.Context) error {
	d.ctx = ctx
	if err := d.session.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	d.log.Info("discord connected", "user", d.session.State.User.ID)
	<-ctx.Done()
	if err := d.session.Close(); err != nil {
		d.log.Warn("discord close", "err", err)
	}
	return nil
}

func (d *Discord) Mention(user string) string {
	return "<@" + user + ">"
}

func (d *Discord) DisplayName(ctx context.Context, group, user string) (string, error) {
	m, err := d.session.GuildMember(group, user, discordgo.WithContext(ctx))
	if err != nil {
		return "", err
	}
	if m.Nick != "" {
		return m.Nick, nil
	}
	if m.User != nil {
		if m.User.GlobalName != "" {
			return m.User.GlobalName, nil
		}
		return m.User.Username, nil
	}
	return "", nil
}

func (d *Discord) Mute(ctx context.Context, group, user string, dur time.Duration) error {
	if dur <= 0 {
		return nil
	}
	until := time.Now().Add(dur)
	return d.session.GuildMemberTimeout(group, user, &until, discordgo.WithContext(ctx))
}

// parseDiscordContent removes user mentions from content. It reports the
// other users mentioned, in order, and whether botID was mentioned.
func parseDiscordContent(content, botID string) (string, []string, bool) {
	var mentions []string
	addressed := false
	seen := map[string]bool{}
	for _, m := range discordMention.FindAllStringSubmatch(content, -1) {
		id := m[1]
		if id == botID {
			addressed = true
			continue
		}
		if !seen[id] {
			seen[id] = true
			mentions = append(mentions, id)
		}
	}
	text := discordMention.ReplaceAllString(content, " ")
	return strings.Join(strings.Fields(text), " "), mentions, addressed
}

func (d *Discord) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	botID := ""
	if s.State != nil && s.State.User != nil {
		botID = s.State.User.ID
	}
	text, mentions, addressed := parseDiscordContent(m.Content, botID)
	if text == "" {
		return
	}
	name := m.Author.GlobalName
	if name == "" {
		name = m.Author.Username
	}
	if m.Member != nil && m.Member.Nick != "" {
		name = m.Member.Nick
	}
	msg := Message{
		Group:      m.GuildID,
		Sender:     m.Author.ID,
		SenderName: name,
		Text:       text,
		Mentions:   mentions,
		Addressed:  addressed || strings.ContainsAny(text[:1], "/!#"),
	}
	ctx := d.ctx
	for _, r := range d.router.Handle(ctx, msg, d) {
		d.send(ctx, m.ChannelID, r)
	}
}

func (d *Discord) send(ctx context.Context, channelID string, r Reply) {
	out := &discordgo.MessageSend{
		Content: r.Text,
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeUsers},
		},
	}
	if r.Image != "" && d.images != nil {
		raw, ct, err := d.images.Fetch(ctx, r.Image)
		if err != nil {
			d.log.Warn("attach image", "img", r.Image, "err", err)
		} else {
			out.Files = []*discordgo.File{{
				Name:        path.Base(r.Image),
				ContentType: ct,
				Reader:      bytes.NewReader(raw),
			}}
		}
	}
	if _, err := d.session.ChannelMessageSendComplex(channelID, out, discordgo.WithContext(ctx)); err != nil {
		d.log.Error("send reply", "channel", channelID, "err", err)
	}
}
