package otp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/go-resty/resty/v2"
)

// Messenger delivers a code to a phone number.
type Messenger interface {
	SendCode(ctx context.Context, phone, code string) error
}

// WhatsAppConfig configures the WhatsApp Cloud API template sender.
type WhatsAppConfig struct {
	BaseURL       string
	PhoneNumberID string
	AccessToken   string
	TemplateName  string
	LanguageCode  string
	CountryCode   string
	Timeout       time.Duration
}

// WhatsApp sends codes through a pre-approved message template.
type WhatsApp struct {
	cfg    WhatsAppConfig
	client *resty.Client
}

// NewWhatsApp returns a WhatsApp messenger.
func NewWhatsApp(cfg WhatsAppConfig) *WhatsApp {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetAuthToken(cfg.AccessToken).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout).
		SetRetryCount(0)
	return &WhatsApp{cfg: cfg, client: client}
}

type templateParam struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type templateComponent struct {
	Type       string          `json:"type"`
	Parameters []templateParam `json:"parameters"`
}

type templateMessage struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Template         struct {
		Name     string `json:"name"`
		Language struct {
			Code string `json:"code"`
		} `json:"language"`
		Components []templateComponent `json:"components"`
	} `json:"template"`
}

// SendCode implements Messenger.
func (w *WhatsApp) SendCode(ctx context.Context, phone, code string) error {
	msg := templateMessage{MessagingProduct: "whatsapp", To: w.normalize(phone), Type: "template"}
	msg.Template.Name = w.cfg.TemplateName
	msg.Template.Language.Code = w.cfg.LanguageCode
	msg.Template.Components = []templateComponent{{
		Type:       "body",
		Parameters: []templateParam{{Type: "text", Text: code}},
	}}

	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(msg).
		Post("/" + w.cfg.PhoneNumberID + "/messages")
	if err != nil {
		return fmt.Errorf("HTTP error: %w", err)
	}
	if resp.IsError() {
		var body struct {
			Error struct {
				Message string `json:"message"`
				Code    int    `json:"code"`
			} `json:"error"`
		}
		_ = json.Unmarshal(resp.Body(), &body)
		return fmt.Errorf("whatsapp returned status %d: code=%d %s", resp.StatusCode(), body.Error.Code, body.Error.Message)
	}
	return nil
}

// normalize strips formatting and prefixes the country code to local numbers.
func (w *WhatsApp) normalize(phone string) string {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, phone)
	if len(digits) == 10 && w.cfg.CountryCode != "" {
		return w.cfg.CountryCode + digits
	}
	return digits
}
