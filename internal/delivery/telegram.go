package delivery

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"whatsched/internal/message"
	kit "whatsched/internal/transport"
)

// TextSender is the part of the bot adapter the telegram driver needs.
type TextSender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// TelegramDriver delivers through the bot. Addresses are numeric chat ids.
type TelegramDriver struct {
	sender TextSender
}

func NewTelegramDriver(sender TextSender) *TelegramDriver {
	return &TelegramDriver{sender: sender}
}

func (d *TelegramDriver) Name() string { return "telegram" }

func (d *TelegramDriver) Connect(ctx context.Context) error {
	if d.sender == nil {
		return fmt.Errorf("telegram adapter is not running")
	}
	return nil
}

func (d *TelegramDriver) Deliver(ctx context.Context, address string, msg message.Message) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(address), 10, 64)
	if err != nil {
		return fmt.Errorf("telegram address %q is not a chat id", address)
	}
	_, err = d.sender.SendText(ctx, kit.ChatTarget{ChatID: chatID}, bodyWithMedia(msg), nil)
	return err
}

func (d *TelegramDriver) Close() error { return nil }
