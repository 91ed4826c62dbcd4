package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"conservative_bot/pkg/logger"
)

type Notifier interface {
	Send(msg string)
	Sendf(format string, args ...any)
	Confirm(ctx context.Context, prompt string, timeout time.Duration) bool
}

// CommandFunc answers a chat command with the reply text.
type CommandFunc func(ctx context.Context, args string) string

// Telegram sends alerts to one chat, asks for inline confirmations and
// answers the registered slash commands from that chat.
type Telegram struct {
	bot    *tgbot.BotAPI
	chatID int64

	mu       sync.Mutex
	pendings map[string]*pending
	commands map[string]CommandFunc
}

type pending struct {
	ch     chan bool
	msgID  int
	prompt string
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Telegram{
		bot:      b,
		chatID:   chatID,
		pendings: make(map[string]*pending),
		commands: make(map[string]CommandFunc),
	}, nil
}

func (t *Telegram) Send(msg string) {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return
	}
	if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, msg)); err != nil {
		logger.Warn("telegram send: %v", err)
	}
}

func (t *Telegram) Sendf(format string, args ...any) { t.Send(fmt.Sprintf(format, args...)) }

// Handle registers fn for /command. Call before Start.
func (t *Telegram) Handle(command string, fn CommandFunc) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.commands[command] = fn
}

// parseCallback splits CONF::token / REJ::token.
func parseCallback(data string) (verb, token string) {
	verb, token, ok := strings.Cut(data, "::")
	if !ok {
		return "", ""
	}
	return verb, token
}

// HandleCallback resolves a pending Confirm from its inline button.
func (t *Telegram) HandleCallback(cb *tgbot.CallbackQuery) {
	if t == nil || t.bot == nil || cb == nil {
		return
	}

	// stops the client spinner
	_, _ = t.bot.Request(tgbot.NewCallback(cb.ID, ""))

	verb, token := parseCallback(cb.Data)
	if verb == "" || token == "" {
		return
	}

	t.mu.Lock()
	p, ok := t.pendings[token]
	delete(t.pendings, token)
	t.mu.Unlock()
	if !ok {
		return
	}

	accepted := verb == "CONF"
	p.ch <- accepted
	close(p.ch)

	status := "❌ Rejected"
	if accepted {
		status = "✅ Confirmed"
	}
	_ = t.editReplyMarkupRemove(t.chatID, p.msgID)
	_ = t.editText(t.chatID, p.msgID, fmt.Sprintf("%s\n\n%s", p.prompt, status))
}

func (t *Telegram) editReplyMarkupRemove(chatID int64, msgID int) error {
	rm := tgbot.InlineKeyboardMarkup{InlineKeyboard: [][]tgbot.InlineKeyboardButton{}}
	edit := tgbot.NewEditMessageReplyMarkup(chatID, msgID, rm)
	_, err := t.bot.Request(edit)
	return err
}

func (t *Telegram) editText(chatID int64, msgID int, text string) error {
	edit := tgbot.NewEditMessageText(chatID, msgID, text)
	_, err := t.bot.Request(edit)
	return err
}

// Confirm posts prompt with accept/reject buttons and waits for a press.
// Timeout and cancellation count as a rejection.
func (t *Telegram) Confirm(ctx context.Context, prompt string, timeout time.Duration) bool {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return true
	}

	token := fmt.Sprintf("%d", time.Now().UnixNano())
	p := &pending{
		ch:     make(chan bool, 1),
		prompt: prompt,
	}

	t.mu.Lock()
	t.pendings[token] = p
	t.mu.Unlock()

	btnYes := tgbot.NewInlineKeyboardButtonData("✅ Enter", "CONF::"+token)
	btnNo := tgbot.NewInlineKeyboardButtonData("❌ Skip", "REJ::"+token)
	kb := tgbot.NewInlineKeyboardMarkup(tgbot.NewInlineKeyboardRow(btnYes, btnNo))

	msg := tgbot.NewMessage(t.chatID, prompt)
	msg.ReplyMarkup = kb

	sent, err := t.bot.Send(msg)
	if err != nil {
		logger.Warn("telegram confirm: %v", err)
		t.drop(token)
		return false
	}
	t.mu.Lock()
	p.msgID = sent.MessageID
	t.mu.Unlock()

	tmr := time.NewTimer(timeout)
	defer tmr.Stop()

	select {
	case ok := <-p.ch:
		return ok
	case <-tmr.C:
		t.expire(token, p, "⏳ Timed out")
		return false
	case <-ctx.Done():
		t.expire(token, p, "⛔️ Cancelled")
		return false
	}
}

func (t *Telegram) expire(token string, p *pending, status string) {
	_ = t.editReplyMarkupRemove(t.chatID, p.msgID)
	_ = t.editText(t.chatID, p.msgID, fmt.Sprintf("%s\n\n%s", p.prompt, status))
	t.drop(token)
}

func (t *Telegram) drop(token string) {
	t.mu.Lock()
	delete(t.pendings, token)
	t.mu.Unlock()
}

func (t *Telegram) help() string {
	t.mu.Lock()
	names := make([]string, 0, len(t.commands))
	for name := range t.commands {
		names = append(names, "/"+name)
	}
	t.mu.Unlock()
	sort.Strings(names)
	return "Commands: " + strings.Join(names, " ")
}

func (t *Telegram) dispatch(ctx context.Context, msg *tgbot.Message) {
	t.mu.Lock()
	fn, ok := t.commands[msg.Command()]
	t.mu.Unlock()
	if !ok {
		t.Send(t.help())
		return
	}
	t.Send(fn(ctx, msg.CommandArguments()))
}

// Start long-polls for messages and callback queries until ctx ends.
func (t *Telegram) Start(ctx context.Context) error {
	if t == nil || t.bot == nil {
		return nil
	}

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message", "callback_query"}

	updates := t.bot.GetUpdatesChan(u)
	go func() {
		for {
			select {
			case <-ctx.Done():
				t.bot.StopReceivingUpdates()
				return
			case upd := <-updates:
				if upd.CallbackQuery != nil {
					t.HandleCallback(upd.CallbackQuery)
				}
				if upd.Message != nil && upd.Message.Chat != nil &&
					upd.Message.Chat.ID == t.chatID && upd.Message.IsCommand() {
					go t.dispatch(ctx, upd.Message)
				}
			}
		}
	}()
	return nil
}

// Stdout logs every message and auto-confirms.
type Stdout struct{}

func NewStdout() *Stdout                           { return &Stdout{} }
func (s *Stdout) Send(msg string)                  { logger.Info("%s", msg) }
func (s *Stdout) Sendf(format string, args ...any) { logger.Info(format, args...) }
func (s *Stdout) Confirm(ctx context.Context, prompt string, timeout time.Duration) bool {
	logger.Info("CONFIRM (auto-yes): %s", prompt)
	return ctx.Err() == nil
}
