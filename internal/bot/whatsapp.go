package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

var (
	ErrMuteUnsupported = errors.New("mute is not supported on this transport")

	waMention = regexp.MustCompile(`@(\d+)`)
)

// WhatsApp bridges group chats to the router. A group chat JID is a group and
// users are addressed by the user part of their JID.
type WhatsApp struct {
	router *Router
	images ImageFetcher
	log    *slog.Logger
	client *whatsmeow.Client

	mu    sync.Mutex
	names map[string]string
	jids  map[string]types.JID

	ctx context.Context
}

// NewWhatsApp opens the device store in Postgres at dsn and prepares a client.
func NewWhatsApp(ctx context.Context, dsn string, router *Router, fetcher ImageFetcher, logger *slog.Logger) (*WhatsApp, error) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("transport", "whatsapp")
	container, err := sqlstore.New(ctx, "postgres", dsn, slogWALogger{log: log.With("module", "store")})
	if err != nil {
		return nil, fmt.Errorf("whatsapp device store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("whatsapp device: %w", err)
	}
	w := &WhatsApp{
		router: router,
		images: fetcher,
		log:    log,
		client: whatsmeow.NewClient(device, slogWALogger{log: log.With("module", "client")}),
		names:  map[string]string{},
		jids:   map[string]types.JID{},
		ctx:    context.Background(),
	}
	w.client.AddEventHandler(w.onEvent)
	return w, nil
}

// Run connects, pairing through a terminal QR code on first use, and blocks
// until ctx is done.
func (w *WhatsApp) Run(ctx context.Context) error {
	w.ctx = ctx
	if w.client.Store.ID == nil {
		qr, err := w.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("whatsapp qr channel: %w", err)
		}
		if err := w.client.Connect(); err != nil {
			return fmt.Errorf("whatsapp connect: %w", err)
		}
		go func() {
			for item := range qr {
				switch item.Event {
				case "code":
					w.log.Info("scan the QR code to pair the bot")
					qrterminal.GenerateHalfBlock(item.Code, qrterminal.L, os.Stdout)
				default:
					w.log.Info("pairing", "event", item.Event)
				}
			}
		}()
	} else if err := w.client.Connect(); err != nil {
		return fmt.Errorf("whatsapp connect: %w", err)
	}
	<-ctx.Done()
	w.client.Disconnect()
	return nil
}

func (w *WhatsApp) Mention(user string) string {
	return "@" + user
}

func (w *WhatsApp) DisplayName(_ context.Context, _, user string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if name, ok := w.names[user]; ok {
		return name, nil
	}
	return "", fmt.Errorf("no name seen for %s", user)
}

func (w *WhatsApp) Mute(context.Context, string, string, time.Duration) error {
	return ErrMuteUnsupported
}

func (w *WhatsApp) remember(jid types.JID, name string) {
	jid = jid.ToNonAD()
	w.mu.Lock()
	defer w.mu.Unlock()
	w.jids[jid.User] = jid
	if name != "" {
		w.names[jid.User] = name
	}
}

func (w *WhatsApp) jidFor(user string) types.JID {
	w.mu.Lock()
	defer w.mu.Unlock()
	if jid, ok := w.jids[user]; ok {
		return jid
	}
	return types.NewJID(user, types.DefaultUserServer)
}

func (w *WhatsApp) onEvent(evt any) {
	switch e := evt.(type) {
	case *events.Message:
		w.onMessage(e)
	case *events.Connected:
		w.log.Info("whatsapp connected")
	case *events.LoggedOut:
		w.log.Warn("whatsapp logged out", "reason", fmt.Sprint(e.Reason))
	}
}

func messageText(m *waE2E.Message) (string, []string) {
	if m == nil {
		return "", nil
	}
	if t := m.GetConversation(); t != "" {
		return t, nil
	}
	ext := m.GetExtendedTextMessage()
	return ext.GetText(), ext.GetContextInfo().GetMentionedJID()
}

// parseWhatsAppText strips "@user" tokens for the mentioned JIDs and reports
// the other mentioned users and whether self was mentioned.
func parseWhatsAppText(body string, mentioned []string, self string) (string, []string, bool) {
	addressed := false
	var users []string
	strip := map[string]bool{}
	for _, raw := range mentioned {
		jid, err := types.ParseJID(raw)
		if err != nil {
			continue
		}
		strip[jid.User] = true
		if jid.User == self {
			addressed = true
			continue
		}
		users = append(users, jid.User)
	}
	text := waMention.ReplaceAllStringFunc(body, func(tok string) string {
		if strip[tok[1:]] {
			return " "
		}
		return tok
	})
	return strings.Join(strings.Fields(text), " "), users, addressed
}

func (w *WhatsApp) onMessage(e *events.Message) {
	if !e.Info.IsGroup || e.Info.IsFromMe {
		return
	}
	body, mentioned := messageText(e.Message)
	self := ""
	if w.client.Store.ID != nil {
		self = w.client.Store.ID.User
	}
	text, users, addressed := parseWhatsAppText(body, mentioned, self)
	if text == "" {
		return
	}
	w.remember(e.Info.Sender, e.Info.PushName)
	for _, raw := range mentioned {
		if jid, err := types.ParseJID(raw); err == nil {
			w.remember(jid, "")
		}
	}

	msg := Message{
		Group:      e.Info.Chat.String(),
		Sender:     e.Info.Sender.User,
		SenderName: e.Info.PushName,
		Text:       text,
		Mentions:   users,
		Addressed:  addressed || strings.ContainsAny(text[:1], "/!#"),
	}
	ctx := w.ctx
	for _, r := range w.router.Handle(ctx, msg, w) {
		if err := w.send(ctx, e.Info.Chat, r); err != nil {
			w.log.Error("send reply", "group", msg.Group, "err", err)
		}
	}
}

func (w *WhatsApp) send(ctx context.Context, chat types.JID, r Reply) error {
	var mentions []string
	for _, m := range waMention.FindAllStringSubmatch(r.Text, -1) {
		mentions = append(mentions, w.jidFor(m[1]).String())
	}
	info := &waE2E.ContextInfo{MentionedJID: mentions}

	if r.Image != "" && w.images != nil {
		raw, ct, err := w.images.Fetch(ctx, r.Image)
		if err == nil {
			up, uerr := w.client.Upload(ctx, raw, whatsmeow.MediaImage)
			if uerr == nil {
				_, err = w.client.SendMessage(ctx, chat, &waE2E.Message{
					ImageMessage: &waE2E.ImageMessage{
						Caption:       proto.String(r.Text),
						Mimetype:      proto.String(ct),
						URL:           proto.String(up.URL),
						DirectPath:    proto.String(up.DirectPath),
						MediaKey:      up.MediaKey,
						FileEncSHA256: up.FileEncSHA256,
						FileSHA256:    up.FileSHA256,
						FileLength:    proto.Uint64(up.FileLength),
						ContextInfo:   info,
					},
				})
				return err
			}
			err = uerr
		}
		w.log.Warn("attach image", "img", r.Image, "err", err)
	}

	_, err := w.client.SendMessage(ctx, chat, &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        proto.String(r.Text),
			ContextInfo: info,
		},
	})
	return err
}

// slogWALogger adapts slog to whatsmeow's logger interface.
type slogWALogger struct {
	log *slog.Logger
}

func (l slogWALogger) Errorf(msg string, args ...interface{}) { l.log.Error(fmt.Sprintf(msg, args...)) }
func (l slogWALogger) Warnf(msg string, args ...interface{})  { l.log.Warn(fmt.Sprintf(msg, args...)) }
func (l slogWALogger) Infof(msg string, args ...interface{})  { l.log.Info(fmt.Sprintf(msg, args...)) }
func (l slogWALogger) Debugf(msg string, args ...interface{}) { l.log.Debug(fmt.Sprintf(msg, args...)) }

func (l slogWALogger) Sub(module string) waLog.Logger {
	return slogWALogger{log: l.log.With("module", module)}
}
