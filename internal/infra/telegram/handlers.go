// internal/infra/telegram/handlers.go
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gift_circle_bot/internal/app"
	"gift_circle_bot/internal/domain/person"
	idb "gift_circle_bot/internal/infra/database"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// Handlers wires the slash commands to the application services.
type Handlers struct {
	bot           *telebot.Bot
	venueID       int64
	registrations *app.RegistrationService
	suggestions   *app.SuggestionService
	gifts         *app.GiftService
	logger        *logrus.Entry
}

func NewHandlers(
	bot *telebot.Bot,
	venueID int64,
	registrations *app.RegistrationService,
	suggestions *app.SuggestionService,
	gifts *app.GiftService,
	logger *logrus.Entry,
) *Handlers {
	return &Handlers{
		bot:           bot,
		venueID:       venueID,
		registrations: registrations,
		suggestions:   suggestions,
		gifts:         gifts,
		logger:        logger,
	}
}

var stepPrompts = map[person.SessionStep]string{
	person.StepAddressLine1: "What's your address line 1 (include apt/suite if needed)?",
	person.StepCityState:    "City, State?",
	person.StepPostalCode:   "ZIP / postal code?",
	person.StepVenmo:        "Venmo handle? (reply 'skip' to leave empty)",
	person.StepZelle:        "Zelle info? (reply 'skip' to leave empty)",
}

// Register installs all command handlers on the bot.
func (h *Handlers) Register(ctx context.Context) {
	h.bot.Handle("/start", func(c telebot.Context) error {
		return c.Send("Hi! I organize birthday gift pools for this circle. Run /register YYYY-MM-DD in a private chat with me to join. /help lists all commands.")
	})

	h.bot.Handle("/help", func(c telebot.Context) error {
		var b strings.Builder
		b.WriteString("Commands:\n\n")
		b.WriteString("/register <YYYY-MM-DD> - register your birthday and mailing address (private chat)\n")
		b.WriteString("/profile - show your stored birthday and payment info\n")
		b.WriteString("/registered - list registered members and birthdays\n")
		b.WriteString("/remove <user-id> - remove a registration\n\n")
		b.WriteString("Inside a birthday thread:\n")
		b.WriteString("/suggest <url> - suggest a gift\n")
		b.WriteString("/poll - start the vote with all suggestions\n")
		b.WriteString("/claim - claim purchaser after voting closes\n")
		b.WriteString("/receipt <total> - post the receipt total (purchaser only)\n")
		b.WriteString("/paid - mark yourself paid\n")
		b.WriteString("/mark_paid <user-id> [note] - purchaser override\n")
		b.WriteString("/mark_unpaid <user-id> [note] - purchaser override\n")
		b.WriteString("/status - show cycle status")
		return c.Send(b.String())
	})

	h.bot.Handle("/register", func(c telebot.Context) error {
		logCtx := h.logger.WithFields(logrus.Fields{"handler": "/register", "sender_id": c.Sender().ID})
		args := c.Args()
		if len(args) != 1 {
			return c.Send("Usage: /register YYYY-MM-DD")
		}
		step, err := h.registrations.Begin(ctx, c.Sender().ID, args[0])
		if err != nil {
			if errors.Is(err, app.ErrInvalidBirthday) {
				return c.Send(fmt.Sprintf("Invalid birthday format. Use YYYY-MM-DD. Received: %q", args[0]))
			}
			logCtx.WithError(err).Error("Failed to begin registration")
			return c.Send("Something went wrong. Please try again later.")
		}
		logCtx.Info("Registration started")
		return c.Send(stepPrompts[step])
	})

	// Plain text in a private chat continues an in-progress registration.
	h.bot.Handle(telebot.OnText, func(c telebot.Context) error {
		if c.Chat() == nil || c.Chat().Type != telebot.ChatPrivate {
			return nil
		}
		if !h.registrations.HasSession(ctx, c.Sender().ID) {
			return nil
		}
		logCtx := h.logger.WithFields(logrus.Fields{"handler": "registration_answer", "sender_id": c.Sender().ID})

		result, err := h.registrations.HandleAnswer(ctx, c.Sender().ID, c.Text())
		if err != nil {
			switch {
			case errors.Is(err, app.ErrNoSession):
				return c.Send("Registration session expired. Please run /register again.")
			case errors.Is(err, app.ErrInvalidCityState):
				return c.Send("Please answer as \"City, State\" (for example: Portland, OR).")
			case errors.Is(err, app.ErrAnswerRejected):
				return c.Send("That can't be empty. Please try again.")
			default:
				logCtx.WithError(err).Error("Failed to handle registration answer")
				return c.Send("Something went wrong. Please try again later.")
			}
		}
		if result.Done {
			logCtx.Info("Registration finished")
			if result.Existed {
				return c.Send("Registration updated.")
			}
			return c.Send("Registration saved.")
		}
		return c.Send(stepPrompts[result.NextStep])
	})

	h.bot.Handle("/suggest", func(c telebot.Context) error {
		logCtx := h.logger.WithFields(logrus.Fields{"handler": "/suggest", "sender_id": c.Sender().ID})
		threadID, ok := h.threadOf(c)
		if !ok {
			return c.Send("Please run this command inside a birthday thread.")
		}
		args := c.Args()
		if len(args) != 1 {
			return h.replyInThread(c, threadID, "Usage: /suggest <url>")
		}
		if _, err := h.suggestions.Suggest(ctx, threadID, c.Sender().ID, args[0]); err != nil {
			return h.replyInThread(c, threadID, h.userMessage(logCtx, err))
		}
		return h.replyInThread(c, threadID, "Suggestion posted.")
	})

	h.bot.Handle("/poll", func(c telebot.Context) error {
		logCtx := h.logger.WithFields(logrus.Fields{"handler": "/poll", "sender_id": c.Sender().ID})
		threadID, ok := h.threadOf(c)
		if !ok {
			return c.Send("Please run this command inside a birthday thread.")
		}
		if err := h.gifts.StartPoll(ctx, threadID); err != nil {
			return h.replyInThread(c, threadID, h.userMessage(logCtx, err))
		}
		return nil
	})

	// Telegram pushes a poll update on every vote change; persisting the
	// tallies here is what lets the sweep close voting without reading the
	// live poll.
	h.bot.Handle(telebot.OnPoll, func(c telebot.Context) error {
		poll := c.Poll()
		if poll == nil || poll.ID == "" {
			return nil
		}
		counts := make([]int, len(poll.Options))
		for i, opt := range poll.Options {
			counts[i] = opt.VoterCount
		}
		if err := h.gifts.RecordPollResults(ctx, poll.ID, counts); err != nil {
			h.logger.WithError(err).WithField("poll_id", poll.ID).Error("Failed to record poll results")
		}
		return nil
	})

	h.bot.Handle("/claim", func(c telebot.Context) error {
		logCtx := h.logger.WithFields(logrus.Fields{"handler": "/claim", "sender_id": c.Sender().ID})
		threadID, ok := h.threadOf(c)
		if !ok {
			return c.Send("Please run this command inside a birthday thread.")
		}
		if err := h.gifts.Claim(ctx, threadID, c.Sender().ID); err != nil {
			return h.replyInThread(c, threadID, h.userMessage(logCtx, err))
		}
		return h.replyInThread(c, threadID, "You are the purchaser. Check your DMs for the address.")
	})

	h.bot.Handle("/receipt", func(c telebot.Context) error {
		logCtx := h.logger.WithFields(logrus.Fields{"handler": "/receipt", "sender_id": c.Sender().ID})
		threadID, ok := h.threadOf(c)
		if !ok {
			return c.Send("Please run this command inside a birthday thread.")
		}
		args := c.Args()
		if len(args) != 1 {
			return h.replyInThread(c, threadID, "Usage: /receipt <total>")
		}
		totalCents, err := app.ParseCents(args[0])
		if err != nil {
			return h.replyInThread(c, threadID, "Invalid receipt total.")
		}
		if err := h.gifts.PostReceipt(ctx, threadID, c.Sender().ID, totalCents); err != nil {
			return h.replyInThread(c, threadID, h.userMessage(logCtx, err))
		}
		return nil
	})

	h.bot.Handle("/paid", func(c telebot.Context) error {
		logCtx := h.logger.WithFields(logrus.Fields{"handler": "/paid", "sender_id": c.Sender().ID})
		threadID, ok := h.threadOf(c)
		if !ok {
			return c.Send("Please run this command inside a birthday thread.")
		}
		if err := h.gifts.MarkSelfPaid(ctx, threadID, c.Sender().ID); err != nil {
			return h.replyInThread(c, threadID, h.userMessage(logCtx, err))
		}
		return h.replyInThread(c, threadID, "Marked as paid.")
	})

	h.bot.Handle("/mark_paid", h.overrideHandler(ctx, true))
	h.bot.Handle("/mark_unpaid", h.overrideHandler(ctx, false))

	h.bot.Handle("/status", func(c telebot.Context) error {
		logCtx := h.logger.WithFields(logrus.Fields{"handler": "/status", "sender_id": c.Sender().ID})
		threadID, ok := h.threadOf(c)
		if !ok {
			return c.Send("Please run this command inside a birthday thread.")
		}
		st, err := h.gifts.Status(ctx, threadID)
		if err != nil {
			return h.replyInThread(c, threadID, h.userMessage(logCtx, err))
		}
		winner := "Pending"
		if st.WinnerSelected {
			winner = "Selected"
		}
		purchaser := "Unclaimed"
		if st.PurchaserID != 0 {
			purchaser = h.displayName(st.PurchaserID)
		}
		receipt := "Not posted"
		if st.ReceiptCents >= 0 {
			receipt = app.FormatCents(st.ReceiptCents)
		}
		return h.replyInThread(c, threadID, fmt.Sprintf("Status:\nWinner: %s\nPurchaser: %s\nReceipt: %s", winner, purchaser, receipt))
	})

	h.bot.Handle("/profile", func(c telebot.Context) error {
		logCtx := h.logger.WithFields(logrus.Fields{"handler": "/profile", "sender_id": c.Sender().ID})
		profile, err := h.registrations.GetProfile(ctx, c.Sender().ID)
		if err != nil {
			if errors.Is(err, app.ErrNotRegistered) {
				return c.Send("No profile found. Use /register first.")
			}
			logCtx.WithError(err).Error("Failed to load profile")
			return c.Send("Something went wrong. Please try again later.")
		}
		orNotSet := func(s string) string {
			if s == "" {
				return "Not set"
			}
			return s
		}
		return c.Send(fmt.Sprintf("Birthday: %s\nAddress: %s\nVenmo: %s\nZelle: %s",
			profile.Birthday, profile.AddressMasked, orNotSet(profile.Venmo), orNotSet(profile.Zelle)))
	})

	h.bot.Handle("/registered", func(c telebot.Context) error {
		logCtx := h.logger.WithFields(logrus.Fields{"handler": "/registered", "sender_id": c.Sender().ID})
		persons, err := h.registrations.ListRegistered(ctx)
		if err != nil {
			logCtx.WithError(err).Error("Failed to list registrations")
			return c.Send("Something went wrong. Please try again later.")
		}
		if len(persons) == 0 {
			return c.Send("Nobody is registered yet.")
		}
		var b strings.Builder
		b.WriteString("Registered members:\n")
		for _, p := range persons {
			name := p.DisplayName.String
			if name == "" {
				name = h.displayName(p.ChatUserID)
			}
			fmt.Fprintf(&b, "%s: %s\n", name, p.Birthday.Format("01-02"))
		}
		return c.Send(strings.TrimRight(b.String(), "\n"))
	})

	h.bot.Handle("/remove", func(c telebot.Context) error {
		logCtx := h.logger.WithFields(logrus.Fields{"handler": "/remove", "sender_id": c.Sender().ID})
		targetID, ok := h.targetOf(c)
		if !ok {
			return c.Send("Usage: /remove <user-id> (or reply to the user's message)")
		}
		if err := h.registrations.Remove(ctx, targetID); err != nil {
			if errors.Is(err, idb.ErrPersonNotFound) {
				return c.Send("That user is not registered.")
			}
			logCtx.WithError(err).Error("Failed to remove registration")
			return c.Send("Something went wrong. Please try again later.")
		}
		return c.Send("Registration removed.")
	})
}

func (h *Handlers) overrideHandler(ctx context.Context, paid bool) telebot.HandlerFunc {
	name := "/mark_unpaid"
	if paid {
		name = "/mark_paid"
	}
	return func(c telebot.Context) error {
		logCtx := h.logger.WithFields(logrus.Fields{"handler": name, "sender_id": c.Sender().ID})
		threadID, ok := h.threadOf(c)
		if !ok {
			return c.Send("Please run this command inside a birthday thread.")
		}
		targetID, ok := h.targetOf(c)
		if !ok {
			return h.replyInThread(c, threadID, fmt.Sprintf("Usage: %s <user-id> [note] (or reply to the user's message)", name))
		}
		args := c.Args()
		if c.Message().ReplyTo == nil && len(args) > 0 {
			args = args[1:] // first arg was the user id
		}
		note := strings.Join(args, " ")
		if err := h.gifts.OverridePayment(ctx, threadID, c.Sender().ID, targetID, paid, note); err != nil {
			return h.replyInThread(c, threadID, h.userMessage(logCtx, err))
		}
		verdict := "unpaid"
		if paid {
			verdict = "paid"
		}
		return h.replyInThread(c, threadID, fmt.Sprintf("%s marked as %s.", h.displayName(targetID), verdict))
	}
}

// threadOf returns the forum-topic thread the command came from, requiring it
// to be inside the venue supergroup.
func (h *Handlers) threadOf(c telebot.Context) (int64, bool) {
	msg := c.Message()
	if msg == nil || c.Chat() == nil || c.Chat().ID != h.venueID || msg.ThreadID == 0 {
		return 0, false
	}
	return int64(msg.ThreadID), true
}

// targetOf resolves the target user from a reply or a numeric first argument.
func (h *Handlers) targetOf(c telebot.Context) (int64, bool) {
	if msg := c.Message(); msg != nil && msg.ReplyTo != nil && msg.ReplyTo.Sender != nil {
		return msg.ReplyTo.Sender.ID, true
	}
	args := c.Args()
	if len(args) == 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (h *Handlers) replyInThread(c telebot.Context, threadID int64, text string) error {
	return c.Send(text, &telebot.SendOptions{ThreadID: int(threadID)})
}

func (h *Handlers) displayName(userID int64) string {
	member, err := h.bot.ChatMemberOf(&telebot.Chat{ID: h.venueID}, &telebot.User{ID: userID})
	if err != nil || member.User == nil {
		return strconv.FormatInt(userID, 10)
	}
	name := strings.TrimSpace(member.User.FirstName + " " + member.User.LastName)
	if name == "" {
		name = member.User.Username
	}
	if name == "" {
		name = strconv.FormatInt(userID, 10)
	}
	return name
}

// userMessage maps known service errors to user-facing text; anything
// unclassified is logged and reported generically.
func (h *Handlers) userMessage(logCtx *logrus.Entry, err error) string {
	switch {
	case errors.Is(err, idb.ErrCycleNotFound):
		return "No active cycle found for this thread."
	case errors.Is(err, app.ErrCelebrantBarred):
		return "The birthday person can't do that."
	case errors.Is(err, app.ErrVotingNotClosed):
		return "Voting is not closed yet."
	case errors.Is(err, app.ErrAlreadyClaimed):
		return "Purchaser already claimed."
	case errors.Is(err, app.ErrNotPurchaser):
		return "Only the purchaser can do this."
	case errors.Is(err, app.ErrInvalidTotal):
		return "Invalid receipt total."
	case errors.Is(err, app.ErrNoParticipants):
		return "No participants found for split."
	case errors.Is(err, app.ErrReceiptNotPosted):
		return "Receipt not posted yet."
	case errors.Is(err, app.ErrNotParticipant):
		return "You are not in the participant list for this cycle."
	case errors.Is(err, app.ErrSuggestionLimit):
		return "Suggestion limit reached (3 per user)."
	case errors.Is(err, app.ErrSuggestionTooSoon):
		return "Please wait 1 minute between suggestions."
	case errors.Is(err, app.ErrNoSuggestions):
		return "No suggestions yet. Add some with /suggest first."
	case errors.Is(err, app.ErrPollExists):
		return "A poll is already running for this cycle."
	default:
		logCtx.WithError(err).Error("Command failed")
		return "Something went wrong. Please try again later."
	}
}
