package messaging

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/BTreeMap/PayPipe/internal/models"
	"github.com/BTreeMap/PayPipe/internal/twiliowhatsapp"
)

func TestTwilioServiceSend(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)

	if err := svc.SendMessage(context.Background(), "whatsapp:+15550001111", "hi"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if len(mock.SentMessages) != 1 || mock.SentMessages[0].To != "+15550001111" {
		t.Errorf("sent = %+v", mock.SentMessages)
	}

	svc.Stop()
	if err := svc.SendMessage(context.Background(), "+15550001111", "hi"); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("error after Stop = %v", err)
	}
}

func TestTwilioServiceFetchDocument(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	mock.Media["https://api.twilio.com/media/ME1"] = []byte("%PDF")
	svc := NewTwilioService(mock)

	doc := &models.Document{MediaID: "https://api.twilio.com/media/ME1"}
	if err := svc.FetchDocument(context.Background(), doc); err != nil {
		t.Fatalf("FetchDocument failed: %v", err)
	}
	if string(doc.Data) != "%PDF" {
		t.Errorf("data = %q", doc.Data)
	}
}

func TestParseTwilioForm(t *testing.T) {
	form := url.Values{
		"MessageSid":        {"SM1"},
		"From":              {"whatsapp:+15550001111"},
		"Body":              {""},
		"NumMedia":          {"1"},
		"MediaUrl0":         {"https://api.twilio.com/media/ME1"},
		"MediaContentType0": {"application/pdf"},
	}
	msg, err := ParseTwilioForm(form)
	if err != nil {
		t.Fatalf("ParseTwilioForm failed: %v", err)
	}
	if msg.ID != "SM1" || !msg.HasDocument() || msg.Document.MimeType != "application/pdf" {
		t.Errorf("msg = %+v", msg)
	}

	if _, err := ParseTwilioForm(url.Values{"From": {"whatsapp:+1555"}, "MessageSid": {"SM2"}}); err == nil {
		t.Error("expected an error for an empty message")
	}
	if _, err := ParseTwilioForm(url.Values{"From": {"whatsapp:+1555"}, "Body": {"hi"}}); err == nil {
		t.Error("expected an error without a message id")
	}
}
