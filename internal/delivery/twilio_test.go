package delivery

import (
	"context"
	"errors"
	"testing"

	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"whatsched/internal/message"
)

type fakeTwilio struct {
	fetchErr error
	last     *twilioApi.CreateMessageParams
}

func (f *fakeTwilio) FetchAccount(sid string) (*twilioApi.ApiV2010Account, error) {
	return &twilioApi.ApiV2010Account{}, f.fetchErr
}

func (f *fakeTwilio) CreateMessage(p *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.last = p
	sid := "SM1"
	return &twilioApi.ApiV2010Message{Sid: &sid}, nil
}

func TestTwilioDeliverBuildsWhatsAppParams(t *testing.T) {
	t.Parallel()
	api := &fakeTwilio{}
	d := newTwilioDriver(TwilioOptions{AccountSID: "AC1", AuthToken: "t", From: "+15550000"}, api)
	if err := d.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	err := d.Deliver(context.Background(), "+15550001", message.Message{Text: "caption", MediaURL: "https://x/y.png"})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	p := api.last
	if p == nil || *p.To != "whatsapp:+15550001" || *p.From != "whatsapp:+15550000" || *p.Body != "caption" {
		t.Fatalf("params = %+v", p)
	}
	if p.MediaUrl == nil || (*p.MediaUrl)[0] != "https://x/y.png" {
		t.Fatalf("media = %v", p.MediaUrl)
	}
}

func TestTwilioConnectChecksAccount(t *testing.T) {
	t.Parallel()
	d := newTwilioDriver(TwilioOptions{AccountSID: "AC1", AuthToken: "t"}, &fakeTwilio{fetchErr: errors.New("401")})
	if err := d.Connect(context.Background()); err == nil {
		t.Fatal("expected credential error")
	}
	d = newTwilioDriver(TwilioOptions{}, &fakeTwilio{})
	if err := d.Connect(context.Background()); err == nil {
		t.Fatal("expected missing credentials error")
	}
}
