// internal/infra/telegram/client.go
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/telebot.v3"
)

// Client implements the domain chat.Client interface over a Telegram forum
// supergroup: forum topics stand in for discussion threads and native polls
// carry the vote. Telegram cannot hide a topic from a single member, so the
// celebrant technically can open the thread; the commands still bar them
// from acting in it.
type Client struct {
	bot     *telebot.Bot
	venueID int64
}

func NewClient(bot *telebot.Bot, venueID int64) *Client {
	return &Client{bot: bot, venueID: venueID}
}

func (c *Client) venue() *telebot.Chat {
	return &telebot.Chat{ID: c.venueID}
}

func (c *Client) BotID() int64 {
	return c.bot.Me.ID
}

func (c *Client) VenueReady(ctx context.Context) error {
	chat, err := c.bot.ChatByID(c.venueID)
	if err != nil {
		return fmt.Errorf("venue chat %d unresolvable: %w", c.venueID, err)
	}
	if chat.Type != telebot.ChatSuperGroup {
		return fmt.Errorf("venue chat %d is a %s, need a forum supergroup", c.venueID, chat.Type)
	}
	return nil
}

func (c *Client) HasViewAccess(ctx context.Context, userID int64) (bool, error) {
	member, err := c.bot.ChatMemberOf(c.venue(), &telebot.User{ID: userID})
	if err != nil {
		return false, fmt.Errorf("failed to check membership of %d: %w", userID, err)
	}
	switch member.Role {
	case telebot.Left, telebot.Kicked:
		return false, nil
	}
	if member.User != nil && member.User.IsBot {
		return false, nil
	}
	return true, nil
}

func (c *Client) DisplayName(ctx context.Context, userID int64) string {
	member, err := c.bot.ChatMemberOf(c.venue(), &telebot.User{ID: userID})
	if err != nil || member.User == nil {
		return strconv.FormatInt(userID, 10)
	}
	u := member.User
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	if name == "" {
		name = strconv.FormatInt(userID, 10)
	}
	return name
}

func (c *Client) CreateThread(ctx context.Context, name string) (int64, error) {
	topic, err := c.bot.CreateTopic(c.venue(), &telebot.Topic{Name: name})
	if err != nil {
		return 0, fmt.Errorf("failed to create topic %q: %w", name, err)
	}
	return int64(topic.ThreadID), nil
}

func (c *Client) SendThreadMessage(ctx context.Context, threadID int64, text string) (int64, error) {
	msg, err := c.bot.Send(c.venue(), text, &telebot.SendOptions{ThreadID: int(threadID)})
	if err != nil {
		return 0, fmt.Errorf("failed to send to thread %d: %w", threadID, err)
	}
	return int64(msg.ID), nil
}

func (c *Client) EditThreadMessage(ctx context.Context, threadID, messageID int64, text string) error {
	stored := telebot.StoredMessage{MessageID: strconv.FormatInt(messageID, 10), ChatID: c.venueID}
	if _, err := c.bot.Edit(stored, text); err != nil {
		return fmt.Errorf("failed to edit message %d: %w", messageID, err)
	}
	return nil
}

func (c *Client) ArchiveThread(ctx context.Context, threadID int64) error {
	if err := c.bot.CloseTopic(c.venue(), &telebot.Topic{ThreadID: int(threadID)}); err != nil {
		return fmt.Errorf("failed to close topic %d: %w", threadID, err)
	}
	return nil
}

func (c *Client) DeleteThread(ctx context.Context, threadID int64) error {
	if err := c.bot.DeleteTopic(c.venue(), &telebot.Topic{ThreadID: int(threadID)}); err != nil {
		return fmt.Errorf("failed to delete topic %d: %w", threadID, err)
	}
	return nil
}

func (c *Client) SendDirect(ctx context.Context, userID int64, text string) error {
	if _, err := c.bot.Send(&telebot.User{ID: userID}, text); err != nil {
		return fmt.Errorf("failed to DM user %d: %w", userID, err)
	}
	return nil
}

func (c *Client) SendPoll(ctx context.Context, threadID int64, question string, answers []string) (int64, string, error) {
	poll := &telebot.Poll{
		Type:     telebot.PollRegular,
		Question: question,
	}
	poll.AddOptions(answers...)
	msg, err := c.bot.Send(c.venue(), poll, &telebot.SendOptions{ThreadID: int(threadID)})
	if err != nil {
		return 0, "", fmt.Errorf("failed to send poll to thread %d: %w", threadID, err)
	}
	pollID := ""
	if msg.Poll != nil {
		pollID = msg.Poll.ID
	}
	return int64(msg.ID), pollID, nil
}

// ClosePoll stops the poll. Tallies are carried by the poll updates Telegram
// pushes to the bot, so this is only the visible close; Telegram rejects a
// second stop on the same poll and callers treat that as harmless.
func (c *Client) ClosePoll(ctx context.Context, threadID, messageID int64) error {
	stored := telebot.StoredMessage{MessageID: strconv.FormatInt(messageID, 10), ChatID: c.venueID}
	if _, err := c.bot.StopPoll(stored); err != nil {
		return fmt.Errorf("failed to stop poll %d: %w", messageID, err)
	}
	return nil
}
