package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"animewife/internal/images"
	"animewife/internal/wife"
)

// Message is one inbound group chat message, already stripped of transport
// markup. Mentions lists the mentioned user ids in order, the bot excluded.
type Message struct {
	Group      string
	Sender     string
	SenderName string
	Text       string
	Mentions   []string
	// Addressed is set when the message mentions or wakes the bot.
	Addressed bool
}

// Reply is one outbound message. Image, when set, is an image identifier the
// transport attaches.
type Reply struct {
	Text  string
	Image string
}

// Transport is what the router needs from a chat network.
type Transport interface {
	Mention(user string) string
	DisplayName(ctx context.Context, group, user string) (string, error)
	Mute(ctx context.Context, group, user string, d time.Duration) error
}

type handlerFunc func(ctx context.Context, c *call) []Reply

type command struct {
	name    string
	aliases []string
	run     handlerFunc
}

// call carries one parsed invocation.
type call struct {
	msg    Message
	tr     Transport
	rest   string
	tokens []string
	nick   string
	admin  bool
}

type Router struct {
	svc        *wife.Service
	admins     *Admins
	needPrefix bool
	log        *slog.Logger

	commands []command
	// english maps a lowercase command word to its command.
	english map[string]*command
	// triggers holds the prefix aliases, longest first.
	triggers []trigger
}

type trigger struct {
	text string
	cmd  *command
}

func NewRouter(svc *wife.Service, admins *Admins, needPrefix bool, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if admins == nil {
		admins = NewAdmins(nil)
	}
	r := &Router{svc: svc, admins: admins, needPrefix: needPrefix, log: logger}
	r.commands = []command{
		{name: "help", aliases: []string{"老婆帮助"}, run: r.help},
		{name: "draw", aliases: []string{"抽老婆"}, run: r.draw},
		{name: "wife", aliases: []string{"查老婆"}, run: r.inspect},
		{name: "replace", aliases: []string{"替换老婆"}, run: r.replace},
		{name: "backpack", aliases: []string{"老婆背包"}, run: r.backpack},
		{name: "send", aliases: []string{"发老婆"}, run: r.send},
		{name: "contest", aliases: []string{"牛老婆"}, run: r.contest},
		{name: "resetcontest", aliases: []string{"重置牛"}, run: r.resetContest},
		{name: "togglecontest", aliases: []string{"切换ntr开关状态"}, run: r.toggleContest},
		{name: "reroll", aliases: []string{"换老婆"}, run: r.reroll},
		{name: "resetreroll", aliases: []string{"重置换"}, run: r.resetReroll},
		{name: "trade", aliases: []string{"交换老婆"}, run: r.trade},
		{name: "accept", aliases: []string{"同意交换"}, run: r.accept},
		{name: "reject", aliases: []string{"拒绝交换"}, run: r.reject},
		{name: "trades", aliases: []string{"查看交换请求"}, run: r.trades},
	}
	r.english = map[string]*command{}
	for i := range r.commands {
		c := &r.commands[i]
		r.english[c.name] = c
		for _, a := range c.aliases {
			r.triggers = append(r.triggers, trigger{text: a, cmd: c})
		}
	}
	sort.SliceStable(r.triggers, func(i, j int) bool {
		return len(r.triggers[i].text) > len(r.triggers[j].text)
	})
	return r
}

// NormalizeText strips one leading "/", "!" or "#" wake prefix.
func NormalizeText(text string) string {
	s := strings.TrimSpace(text)
	if s != "" && strings.ContainsRune("/!#", rune(s[0])) {
		return strings.TrimLeft(s[1:], " \t")
	}
	return s
}

func (r *Router) match(text string) (*command, string) {
	for _, t := range r.triggers {
		if strings.HasPrefix(text, t.text) {
			return t.cmd, strings.TrimSpace(text[len(t.text):])
		}
	}
	word, rest, _ := strings.Cut(text, " ")
	if c, ok := r.english[strings.ToLower(word)]; ok {
		return c, strings.TrimSpace(rest)
	}
	return nil, ""
}

// Handle runs the command in msg, if any, and returns the replies to send.
func (r *Router) Handle(ctx context.Context, msg Message, tr Transport) []Reply {
	if msg.Group == "" || msg.Sender == "" {
		return nil
	}
	if r.needPrefix && !msg.Addressed {
		return nil
	}
	cmd, rest := r.match(NormalizeText(msg.Text))
	if cmd == nil {
		return nil
	}
	nick := strings.TrimSpace(msg.SenderName)
	if nick == "" {
		nick = msg.Sender
	}
	c := &call{
		msg:    msg,
		tr:     tr,
		rest:   rest,
		tokens: strings.Fields(rest),
		nick:   nick,
		admin:  r.admins.Contains(msg.Sender),
	}
	r.log.Debug("command", "group", msg.Group, "user", msg.Sender, "command", cmd.name)
	return cmd.run(ctx, c)
}

func text(format string, args ...any) []Reply {
	return []Reply{{Text: fmt.Sprintf(format, args...)}}
}

// numbers returns the plain numeric tokens.
func (c *call) numbers() []int {
	var out []int
	for _, t := range c.tokens {
		if n, err := strconv.Atoi(t); err == nil && n >= 0 {
			out = append(out, n)
		}
	}
	return out
}

// target resolves the user a command is aimed at: a mention, then an "@id"
// token, then (when byNick) a nickname recorded in the group.
func (r *Router) target(ctx context.Context, c *call, byNick bool) string {
	if len(c.msg.Mentions) > 0 {
		return c.msg.Mentions[0]
	}
	for _, t := range c.tokens {
		if strings.HasPrefix(t, "@") && len(t) > 1 {
			return t[1:]
		}
	}
	if !byNick || len(c.tokens) == 0 {
		return ""
	}
	first := c.tokens[0]
	if _, err := strconv.Atoi(first); err == nil {
		return ""
	}
	if uid, ok := r.svc.FindUser(ctx, c.msg.Group, first); ok {
		return uid
	}
	return ""
}

// deny turns a service error into a reply, logging unexpected failures.
func (r *Router) deny(c *call, err error) []Reply {
	cfg := r.svc.Config()
	switch {
	case errors.Is(err, wife.ErrQuotaExceeded):
		return text("%s, you have used up today's attempts (%s). Come back tomorrow~", c.nick, quotaDetail(err))
	case errors.Is(err, wife.ErrNoTodayEntity):
		return text("%s, you have no wife today yet. Use /draw first~", c.nick)
	case errors.Is(err, wife.ErrSelfTarget):
		return text("%s, you cannot target yourself~", c.nick)
	case errors.Is(err, wife.ErrNoTarget):
		return text("%s, mention the user you mean, or type their full nickname~", c.nick)
	case errors.Is(err, wife.ErrSlotOutOfRange):
		return text("%s, slots range from 1 to %d (%d kept + 1 temporary).", c.nick, cfg.BackpackSize+1, cfg.BackpackSize)
	case errors.Is(err, wife.ErrBackpackFull):
		return text("%s, your backpack is full (%d/%d). Free a slot first~", c.nick, cfg.BackpackSize, cfg.BackpackSize)
	case errors.Is(err, wife.ErrTargetEmpty):
		return text("%s, they have no wife today~", c.nick)
	case errors.Is(err, wife.ErrTargetSlotEmpty):
		return text("%s, that slot of theirs is empty~", c.nick)
	case errors.Is(err, wife.ErrOwnSlotEmpty):
		return text("%s, that slot of yours is empty~", c.nick)
	case errors.Is(err, wife.ErrTradePending):
		return text("%s, you already have a pending trade request today. Wait for an answer~", c.nick)
	case errors.Is(err, wife.ErrNoTradeRequest):
		return text("%s, there is no such trade request. Use /trades to list them~", c.nick)
	case errors.Is(err, wife.ErrTradeStale):
		return text("%s, the trade no longer matches what both of you hold, so it was dropped and refunded.", c.nick)
	case errors.Is(err, wife.ErrNoMatch):
		return text("%s, no image matches that keyword.", c.nick)
	case errors.Is(err, wife.ErrContestDisabled):
		return text("Contests are switched off in this group. Ask an admin to turn them on~")
	case errors.Is(err, wife.ErrRaceLost):
		return text("%s, someone else changed things first. Your attempt was refunded, try again~", c.nick)
	case errors.Is(err, wife.ErrImageUnavailable):
		return text("Sorry, fetching a wife failed. Please try again later~")
	default:
		r.log.Error("command failed", "group", c.msg.Group, "user", c.msg.Sender, "err", err)
		return text("%s, something went wrong, please try again later.", c.nick)
	}
}

func quotaDetail(err error) string {
	var qe *wife.QuotaError
	if errors.As(err, &qe) {
		return fmt.Sprintf("%d per day", qe.Limit)
	}
	return "daily limit reached"
}

func cancelledLine(n int) string {
	if n == 0 {
		return ""
	}
	return fmt.Sprintf("\n%d pending trade request(s) involving this change were cancelled and refunded.", n)
}

func (r *Router) help(ctx context.Context, c *call) []Reply {
	size := r.svc.Config().BackpackSize
	var b strings.Builder
	b.WriteString("[Basics]\n")
	b.WriteString("/draw - draw today's wife\n")
	b.WriteString("/backpack [@user] - list a backpack\n")
	fmt.Fprintf(&b, "/wife [@user] [slot] - show a backpack slot (1-%d) with its image\n", size+1)
	fmt.Fprintf(&b, "/replace <1-%d> - move today's wife into a backpack slot\n", size)
	b.WriteString("\n[Contest]\n")
	b.WriteString("/contest @user [slot] - try to take their wife (today's when no slot)\n")
	b.WriteString("/resetcontest [@user] - reset contest attempts (failure mutes you)\n")
	b.WriteString("\n[Reroll]\n")
	b.WriteString("/reroll - swap today's wife for a new one\n")
	b.WriteString("/resetreroll [@user] - reset reroll attempts (failure mutes you)\n")
	b.WriteString("\n[Trade]\n")
	b.WriteString("/trade @user [mine theirs] - propose a trade (defaults to both today slots)\n")
	b.WriteString("/accept @user, /reject @user - answer a trade request\n")
	b.WriteString("/trades - list your trade requests\n")
	b.WriteString("\n[Admin]\n")
	b.WriteString("/togglecontest - switch contests on or off\n")
	b.WriteString("/send @user <keyword> - give them a wife matching keyword\n")
	b.WriteString("\nSome commands have daily limits.")
	return []Reply{{Text: b.String()}}
}

func (r *Router) draw(ctx context.Context, c *call) []Reply {
	res, err := r.svc.Draw(ctx, c.msg.Group, c.msg.Sender, c.nick)
	if err != nil {
		return r.deny(c, err)
	}
	size := r.svc.Config().BackpackSize
	var b strings.Builder
	fmt.Fprintf(&b, "%s, your wife today is %s. Treasure her~", c.nick, images.DisplayName(res.Image))
	if res.New {
		switch {
		case res.Slot > 0:
			fmt.Fprintf(&b, "\nSaved to backpack slot %d (capacity %d).", res.Slot, size)
		case res.BackpackFull:
			fmt.Fprintf(&b, "\nYour backpack is full (%d/%d), so she was not saved.", size, size)
			fmt.Fprintf(&b, "\nUse /replace <1-%d> to keep her, otherwise she is gone tomorrow.", size)
			b.WriteString("\nBackpack:")
			for i, e := range res.Backpack {
				fmt.Fprintf(&b, "\n%d. %s", i+1, entryLabel(e.Image, e.Note))
			}
		}
	}
	return []Reply{{Text: b.String(), Image: res.Image}}
}

func entryLabel(img, note string) string {
	if img == "" {
		return "(empty)"
	}
	s := images.DisplayName(img)
	if note != "" {
		s += " (" + note + ")"
	}
	return s
}

func (r *Router) inspect(ctx context.Context, c *call) []Reply {
	owner := r.target(ctx, c, true)
	if owner == "" {
		owner = c.msg.Sender
	}
	nums := c.numbers()
	if len(nums) >= 2 {
		return text("%s, usage: /wife [@user] [slot]", c.nick)
	}
	if len(nums) == 0 {
		return r.showBackpack(ctx, c, owner)
	}
	ownerDefault := ""
	if owner == c.msg.Sender {
		ownerDefault = c.nick
	}
	view, err := r.svc.Inspect(ctx, c.msg.Group, owner, ownerDefault, nums[0])
	if err != nil {
		return r.deny(c, err)
	}
	slotName := strconv.Itoa(view.Slot)
	if view.Temporary {
		slotName = "temporary"
	}
	whose := view.OwnerNick + "'s"
	if owner == c.msg.Sender {
		whose = "your"
	}
	if view.Image == "" {
		return text("%s, %s %s slot is still empty~", c.nick, whose, slotName)
	}
	return []Reply{{
		Text:  fmt.Sprintf("%s, %s %s slot holds %s. Remember her?", c.nick, whose, slotName, entryLabel(view.Image, view.Note)),
		Image: view.Image,
	}}
}

func (r *Router) backpack(ctx context.Context, c *call) []Reply {
	owner := r.target(ctx, c, true)
	if owner == "" {
		owner = c.msg.Sender
	}
	return r.showBackpack(ctx, c, owner)
}

func (r *Router) showBackpack(ctx context.Context, c *call, owner string) []Reply {
	ownerDefault := ""
	if owner == c.msg.Sender {
		ownerDefault = c.nick
	}
	view, err := r.svc.Backpack(ctx, c.msg.Group, owner, ownerDefault)
	if err != nil {
		return r.deny(c, err)
	}
	var b strings.Builder
	if owner == c.msg.Sender {
		fmt.Fprintf(&b, "%s, your backpack (%d/%d, plus temporary):", c.nick, view.Used, view.Size)
	} else {
		fmt.Fprintf(&b, "%s, %s's backpack (%d/%d, plus temporary):", c.nick, view.OwnerNick, view.Used, view.Size)
	}
	for _, it := range view.Items {
		mark := ""
		if view.TodaySlot == it.Slot {
			mark = " [today]"
		}
		fmt.Fprintf(&b, "\n%d. %s%s", it.Slot, entryLabel(it.Image, it.Note), mark)
	}
	tmp := view.Temporary
	mark := ""
	if tmp.Image != "" {
		mark = " [today]"
	}
	fmt.Fprintf(&b, "\n%d. %s (temporary)%s", tmp.Slot, entryLabel(tmp.Image, tmp.Note), mark)
	if owner == c.msg.Sender {
		b.WriteString("\n\nUse /wife <slot> to see one with its image.")
	} else {
		b.WriteString("\n\nUse /wife @user <slot> to see one of theirs with its image.")
	}
	if tmp.Image != "" {
		fmt.Fprintf(&b, "\nThe temporary slot is lost tomorrow unless you /replace <1-%d>.", view.Size)
	}
	return []Reply{{Text: b.String()}}
}

func (r *Router) replace(ctx context.Context, c *call) []Reply {
	size := r.svc.Config().BackpackSize
	nums := c.numbers()
	if len(nums) == 0 {
		return text("%s, usage: /replace <1-%d>", c.nick, size)
	}
	res, err := r.svc.Replace(ctx, c.msg.Group, c.msg.Sender, c.nick, nums[0])
	if errors.Is(err, wife.ErrSlotOutOfRange) {
		return text("%s, slots range from 1 to %d.", c.nick, size)
	}
	if err != nil {
		return r.deny(c, err)
	}
	return text("%s, today's wife is now in backpack slot %d: %s", c.nick, res.Slot, images.DisplayName(res.Image))
}

func (r *Router) send(ctx context.Context, c *call) []Reply {
	if !c.admin {
		return text("%s, this command is for admins only~", c.nick)
	}
	target := r.target(ctx, c, false)
	if target == "" {
		return text("%s, usage: /send @user <keyword>", c.nick)
	}
	var words []string
	for _, t := range c.tokens {
		if !strings.HasPrefix(t, "@") {
			words = append(words, t)
		}
	}
	keyword := strings.Join(words, " ")
	if keyword == "" {
		return text("%s, add a keyword after the command, e.g. /send @user mio", c.nick)
	}
	name, err := c.tr.DisplayName(ctx, c.msg.Group, target)
	if err != nil {
		r.log.Debug("display name lookup", "group", c.msg.Group, "user", target, "err", err)
		name = ""
	}
	res, err := r.svc.Send(ctx, c.msg.Group, target, name, keyword)
	if errors.Is(err, wife.ErrNoMatch) {
		return text("%s, no wife image contains \"%s\".", c.nick, keyword)
	}
	if err != nil {
		return r.deny(c, err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s, today's wife is now %s (sent by %s)", c.tr.Mention(target), images.DisplayName(res.Image), c.nick)
	switch {
	case res.Slot > 0:
		fmt.Fprintf(&b, "\nStored in backpack slot %d.", res.Slot)
	case res.BackpackFull:
		b.WriteString("\nTheir backpack is full, so she sits in the temporary slot.")
	}
	b.WriteString(cancelledLine(res.Cancelled))
	return []Reply{{Text: b.String(), Image: res.Image}}
}

func (r *Router) contest(ctx context.Context, c *call) []Reply {
	if !r.svc.ContestEnabled(c.msg.Group) {
		return r.deny(c, wife.ErrContestDisabled)
	}
	slot := 0
	if n := len(c.tokens); n > 0 {
		if v, err := strconv.Atoi(c.tokens[n-1]); err == nil {
			slot = v
			if v == 0 {
				return r.deny(c, wife.ErrSlotOutOfRange)
			}
		}
	}
	target := r.target(ctx, c, true)
	if target == "" {
		return r.deny(c, wife.ErrNoTarget)
	}
	res, err := r.svc.Contest(ctx, c.msg.Group, c.msg.Sender, target, slot)
	if err != nil {
		return r.deny(c, err)
	}
	if !res.Success {
		return text("%s, the contest failed! %d attempt(s) left today.", c.nick, res.Remaining)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s, you took %s from %s! Stored in your backpack slot %d. %d attempt(s) left today.",
		c.nick, images.DisplayName(res.Image), res.TargetNick, res.Slot, res.Remaining)
	b.WriteString(cancelledLine(res.Cancelled))
	return []Reply{{Text: b.String(), Image: res.Image}}
}

func (r *Router) resetContest(ctx context.Context, c *call) []Reply {
	return r.resetQuota(ctx, c, wife.KindContest, "contest")
}

func (r *Router) resetReroll(ctx context.Context, c *call) []Reply {
	return r.resetQuota(ctx, c, wife.KindReroll, "reroll")
}

func (r *Router) resetQuota(ctx context.Context, c *call, kind wife.Kind, label string) []Reply {
	target := r.target(ctx, c, false)
	if target == "" {
		target = c.msg.Sender
	}
	res, err := r.svc.ResetQuota(ctx, c.msg.Group, c.msg.Sender, target, kind, c.admin)
	if err != nil {
		return r.deny(c, err)
	}
	if res.Admin {
		return text("Admin action: reset %s's %s attempts.", c.tr.Mention(target), label)
	}
	if res.Success {
		return text("Reset %s's %s attempts.", c.tr.Mention(target), label)
	}
	if err := c.tr.Mute(ctx, c.msg.Group, c.msg.Sender, res.Mute); err != nil {
		r.log.Warn("mute after failed reset", "group", c.msg.Group, "user", c.msg.Sender, "err", err)
	}
	return text("%s, the %s reset failed and you are muted for %s. Better luck next time~", c.nick, label, res.Mute)
}

func (r *Router) toggleContest(ctx context.Context, c *call) []Reply {
	if !c.admin {
		return text("%s, you are not allowed to do that~", c.nick)
	}
	on, err := r.svc.ToggleContest(ctx, c.msg.Group)
	if err != nil {
		return r.deny(c, err)
	}
	state := "off"
	if on {
		state = "on"
	}
	return text("%s, contests are now %s.", c.nick, state)
}

func (r *Router) reroll(ctx context.Context, c *call) []Reply {
	res, err := r.svc.Reroll(ctx, c.msg.Group, c.msg.Sender, c.nick)
	if err != nil {
		return r.deny(c, err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s, your new wife today is %s. %d reroll(s) left today.", c.nick, images.DisplayName(res.Image), res.Remaining)
	switch {
	case res.Slot > 0:
		fmt.Fprintf(&b, "\nShe took over backpack slot %d.", res.Slot)
	case res.BackpackFull:
		fmt.Fprintf(&b, "\nYour backpack is full; use /replace <1-%d> to keep her.", r.svc.Config().BackpackSize)
	}
	b.WriteString(cancelledLine(res.Cancelled))
	return []Reply{{Text: b.String(), Image: res.Image}}
}

func (r *Router) trade(ctx context.Context, c *call) []Reply {
	nums := c.numbers()
	if len(nums) == 1 || len(nums) >= 3 {
		return text("%s, usage: /trade @user [your slot] [their slot] (omit both to trade today's wives)", c.nick)
	}
	target := r.target(ctx, c, false)
	if target == "" {
		return r.deny(c, wife.ErrNoTarget)
	}
	offer, want := 0, 0
	if len(nums) == 2 {
		offer, want = nums[0], nums[1]
		if offer == 0 || want == 0 {
			return r.deny(c, wife.ErrSlotOutOfRange)
		}
	}
	view, err := r.svc.ProposeTrade(ctx, c.msg.Group, c.msg.Sender, c.nick, target, offer, want)
	if err != nil {
		return r.deny(c, err)
	}
	return text("%s wants to trade their slot %d for your slot %d, %s.\nReply with /accept @%s or /reject @%s.",
		view.InitiatorNick, view.OfferSlot, view.WantSlot, c.tr.Mention(target), c.msg.Sender, c.msg.Sender)
}

func (r *Router) accept(ctx context.Context, c *call) []Reply {
	initiator := r.target(ctx, c, true)
	if initiator == "" {
		return text("%s, mention who proposed the trade, or use /trades to list requests~", c.nick)
	}
	res, err := r.svc.AcceptTrade(ctx, c.msg.Group, c.msg.Sender, initiator)
	if err != nil {
		return r.deny(c, err)
	}
	msg := fmt.Sprintf("Trade done! %s's slot %d and %s's slot %d swapped places.",
		c.tr.Mention(initiator), res.OfferSlot, c.tr.Mention(c.msg.Sender), res.WantSlot)
	return []Reply{{Text: msg + cancelledLine(res.Cancelled)}}
}

func (r *Router) reject(ctx context.Context, c *call) []Reply {
	initiator := r.target(ctx, c, true)
	if initiator == "" {
		return text("%s, mention who proposed the trade, or use /trades to list requests~", c.nick)
	}
	if err := r.svc.RejectTrade(ctx, c.msg.Group, c.msg.Sender, initiator); err != nil {
		return r.deny(c, err)
	}
	return text("%s turned down the trade from %s.", c.nick, c.tr.Mention(initiator))
}

func (r *Router) trades(ctx context.Context, c *call) []Reply {
	list, err := r.svc.TradeRequests(ctx, c.msg.Group, c.msg.Sender)
	if err != nil {
		return r.deny(c, err)
	}
	if len(list.Sent) == 0 && len(list.Received) == 0 {
		return text("You have no trade requests right now~")
	}
	var b strings.Builder
	b.WriteString("Current trade requests:")
	for _, v := range list.Sent {
		fmt.Fprintf(&b, "\n-> you offered %s your slot %d for their slot %d", v.TargetNick, v.OfferSlot, v.WantSlot)
	}
	for _, v := range list.Received {
		fmt.Fprintf(&b, "\n-> %s offers their slot %d for your slot %d", v.InitiatorNick, v.OfferSlot, v.WantSlot)
	}
	b.WriteString("\nAnswer with /accept @user or /reject @user.")
	return []Reply{{Text: b.String()}}
}
