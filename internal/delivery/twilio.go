package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"whatsched/internal/message"
	logx "whatsched/pkg/logx"
)

type TwilioOptions struct {
	AccountSID string
	AuthToken  string
	// From is the WhatsApp-enabled sender number in E.164 form.
	From string
	Log  logx.Logger
}

// twilioAPI is the subset of the Twilio REST client the driver calls.
type twilioAPI interface {
	FetchAccount(sid string) (*twilioApi.ApiV2010Account, error)
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioDriver sends through the Twilio WhatsApp messages API. There is no
// interactive login; Connect verifies the credentials.
type TwilioDriver struct {
	opts TwilioOptions
	api  twilioAPI
	log  logx.Logger
}

func NewTwilioDriver(opts TwilioOptions) *TwilioDriver {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: opts.AccountSID,
		Password: opts.AuthToken,
	})
	return newTwilioDriver(opts, client.Api)
}

func newTwilioDriver(opts TwilioOptions, api twilioAPI) *TwilioDriver {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &TwilioDriver{opts: opts, api: api, log: log.With(logx.String("comp", "twilio"))}
}

func (d *TwilioDriver) Name() string { return "twilio" }

func (d *TwilioDriver) Connect(ctx context.Context) error {
	if d.opts.AccountSID == "" || d.opts.AuthToken == "" {
		return errors.New("twilio credentials are not configured")
	}
	done := make(chan error, 1)
	go func() {
		_, err := d.api.FetchAccount(d.opts.AccountSID)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("twilio account check: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *TwilioDriver) Deliver(ctx context.Context, address string, msg message.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(whatsappAddr(address))
	params.SetFrom(whatsappAddr(d.opts.From))
	if msg.Text != "" {
		params.SetBody(msg.Text)
	}
	if msg.MediaURL != "" {
		params.SetMediaUrl([]string{msg.MediaURL})
	}

	resp, err := d.api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("twilio create message: %w", err)
	}
	if resp != nil && resp.Sid != nil {
		d.log.Debug("twilio message queued", logx.String("sid", *resp.Sid))
	}
	return nil
}

func (d *TwilioDriver) Close() error { return nil }

func whatsappAddr(number string) string {
	number = strings.TrimSpace(number)
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	return "whatsapp:" + number
}
