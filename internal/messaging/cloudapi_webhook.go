package messaging

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/BTreeMap/PayPipe/internal/models"
)

// cloudWebhook is the subset of the Cloud API webhook payload PayPipe reads.
type cloudWebhook struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Messages []cloudMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type cloudMedia struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
}

type cloudMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      struct {
		Body string `json:"body"`
	} `json:"text"`
	Button struct {
		Text string `json:"text"`
	} `json:"button"`
	Interactive struct {
		ButtonReply struct {
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply struct {
			Title string `json:"title"`
		} `json:"list_reply"`
	} `json:"interactive"`
	Document *cloudMedia `json:"document"`
	Image    *cloudMedia `json:"image"`
}

// ParseCloudWebhook extracts inbound user messages from a webhook body.
// Status callbacks and unsupported message types yield no messages.
func ParseCloudWebhook(body []byte) ([]*models.Message, error) {
	var hook cloudWebhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, fmt.Errorf("invalid webhook payload: %w", err)
	}
	var out []*models.Message
	for _, entry := range hook.Entry {
		for _, change := range entry.Changes {
			for _, m := range change.Value.Messages {
				msg := convertCloudMessage(m)
				if msg == nil {
					slog.Debug("ParseCloudWebhook: ignoring message type", "type", m.Type, "id", m.ID)
					continue
				}
				out = append(out, msg)
			}
		}
	}
	return out, nil
}

func convertCloudMessage(m cloudMessage) *models.Message {
	ts, _ := strconv.ParseInt(m.Timestamp, 10, 64)
	msg := &models.Message{ID: m.ID, From: m.From, Time: ts}
	switch m.Type {
	case "text":
		msg.Body = m.Text.Body
	case "button":
		msg.Body = m.Button.Text
	case "interactive":
		msg.Body = m.Interactive.ButtonReply.Title
		if msg.Body == "" {
			msg.Body = m.Interactive.ListReply.Title
		}
	case "document", "image":
		media := m.Document
		if m.Type == "image" {
			media = m.Image
		}
		if media == nil {
			return nil
		}
		msg.Body = media.Caption
		msg.Document = &models.Document{Filename: media.Filename, MimeType: media.MimeType, MediaID: media.ID}
	default:
		return nil
	}
	return msg
}

// VerifyCloudSignature checks an X-Hub-Signature-256 header ("sha256=<hex>")
// against the app secret.
func VerifyCloudSignature(appSecret string, body []byte, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}
