// Package email delivers pass receipts through Postmark.
package email

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"time"
)

const defaultEndpoint = "https://api.postmarkapp.com/email"

type Client struct {
	serverToken string
	fromEmail   string
	endpoint    string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithEndpoint points the client at another Postmark-compatible send URL.
func WithEndpoint(url string) Option {
	return func(cl *Client) {
		cl.endpoint = url
	}
}

func NewClient(serverToken, fromEmail string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		endpoint:    defaultEndpoint,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

// Receipt is the confirmation sent to a purchaser after a sale.
type Receipt struct {
	To          string
	Name        string
	PassID      string
	ProductType string
	Quantity    int
	// QRCode is a PNG of the pass's scannable payload, sent inline.
	QRCode []byte
}

type postmarkEmail struct {
	From        string       `json:"From"`
	To          string       `json:"To"`
	Subject     string       `json:"Subject"`
	HtmlBody    string       `json:"HtmlBody"`
	TextBody    string       `json:"TextBody"`
	Attachments []attachment `json:"Attachments,omitempty"`
}

type attachment struct {
	Name        string `json:"Name"`
	Content     string `json:"Content"`
	ContentType string `json:"ContentType"`
	ContentID   string `json:"ContentID,omitempty"`
}

const qrContentID = "cid:pass-qr"

// SendPassReceipt emails the purchaser their pass code.
func (c *Client) SendPassReceipt(ctx context.Context, r Receipt) error {
	if !c.Configured() {
		return fmt.Errorf("email client not configured: missing server token")
	}

	uses := "1 use"
	if r.Quantity != 1 {
		uses = fmt.Sprintf("%d uses", r.Quantity)
	}
	greeting := "Hi,"
	if r.Name != "" && r.Name != r.To {
		greeting = fmt.Sprintf("Hi %s,", r.Name)
	}

	textBody := fmt.Sprintf(
		"%s\n\nThanks for your purchase. Your %s pass is good for %s.\n\nPass ID: %s\n\nShow the attached code at the front desk, or give the desk your pass ID.",
		greeting, r.ProductType, uses, r.PassID,
	)
	htmlBody := fmt.Sprintf(
		`<p>%s</p><p>Thanks for your purchase. Your %s pass is good for %s.</p><p>Pass ID: <code>%s</code></p>`,
		html.EscapeString(greeting), html.EscapeString(r.ProductType), uses, html.EscapeString(r.PassID),
	)

	payload := postmarkEmail{
		From:     c.fromEmail,
		To:       r.To,
		Subject:  "Your day pass",
		TextBody: textBody,
	}
	if len(r.QRCode) > 0 {
		htmlBody += fmt.Sprintf(`<p><img src="%s" alt="Pass code"></p>`, qrContentID)
		payload.Attachments = []attachment{{
			Name:        "pass.png",
			Content:     base64.StdEncoding.EncodeToString(r.QRCode),
			ContentType: "image/png",
			ContentID:   qrContentID,
		}}
	}
	payload.HtmlBody = htmlBody

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}

	return nil
}
