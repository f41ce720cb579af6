package services

import (
	"fmt"
	"strings"

	"github.com/amirphl/newsletter-dashboard/config"
	"github.com/osteele/liquid"
)

const (
	// ProviderUnsubscribeURL is substituted by Resend with the contact's unsubscribe link
	ProviderUnsubscribeURL = "{{{RESEND_UNSUBSCRIBE_URL}}}"
	// RecipientUnsubscribePlaceholder marks where PersonalizeUnsubscribe puts a per-recipient link
	RecipientUnsubscribePlaceholder = "%%UNSUBSCRIBE_URL%%"
)

const broadcastLayout = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{ title | escape }}</title>
</head>
<body style="font-family: sans-serif; padding: 32px 16px;">
{% if preview_text != "" %}<div style="display: none; max-height: 0; overflow: hidden;">{{ preview_text | escape }}</div>{% endif %}
<div style="margin: 0 auto; max-width: 576px; border-radius: 8px; border: 1px solid #27272a; background-color: #09090b; padding: 32px;">
{% if logo_url != "" %}<img src="{{ logo_url }}" alt="{{ brand_name | escape }}" width="48" height="48" style="margin-bottom: 24px;">{% endif %}
<h1 style="margin: 0 0 16px 0; font-size: 24px; font-weight: 600; color: #ffffff;">{{ title | escape }}</h1>
<hr style="margin: 24px 0; border-color: #27272a;">
<div style="margin-bottom: 24px; font-size: 16px; line-height: 1.625; color: #a1a1aa;">{{ content }}</div>
<hr style="margin: 24px 0; border-color: #27272a;">
<p style="margin: 0 0 8px 0; font-size: 14px; color: #71717a;">{{ footer | escape }}</p>
<p style="margin: 0; font-size: 12px; color: #52525b;">If you wish to unsubscribe, you can do so at any time. <a href="{{ unsubscribe_url }}" style="color: #71717a;">Unsubscribe</a></p>
</div>
</body>
</html>`

// EmailContent is the per-broadcast input of the layout
type EmailContent struct {
	Title          string
	Content        string
	PreviewText    string
	UnsubscribeURL string
}

// EmailRenderer renders broadcast bodies through the newsletter layout
type EmailRenderer struct {
	layout   *liquid.Template
	branding config.BrandingConfig
}

// NewEmailRenderer compiles the layout once
func NewEmailRenderer(branding config.BrandingConfig) (*EmailRenderer, error) {
	engine := liquid.NewEngine()
	tpl, err := engine.ParseString(broadcastLayout)
	if err != nil {
		return nil, fmt.Errorf("failed to parse email layout: %w", err)
	}
	return &EmailRenderer{layout: tpl, branding: branding}, nil
}

// Render produces the full HTML document for a broadcast
func (r *EmailRenderer) Render(c EmailContent) (string, error) {
	footer := r.branding.FooterText
	if footer == "" {
		footer = "Thank you for subscribing to our newsletter."
	}
	out, err := r.layout.RenderString(liquid.Bindings{
		"title":           c.Title,
		"content":         c.Content,
		"preview_text":    c.PreviewText,
		"unsubscribe_url": c.UnsubscribeURL,
		"brand_name":      r.branding.NewsletterName,
		"logo_url":        r.branding.LogoURL,
		"footer":          footer,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render email: %w", err)
	}
	return out, nil
}

// UnsubscribeURL returns the public self-service link for a token
func (r *EmailRenderer) UnsubscribeURL(token string) string {
	return strings.TrimRight(r.branding.PublicBaseURL, "/") + "/api/v1/unsubscribe/" + token
}

// PersonalizeUnsubscribe swaps the recipient placeholder for a concrete link
func PersonalizeUnsubscribe(html, unsubscribeURL string) string {
	return strings.ReplaceAll(html, RecipientUnsubscribePlaceholder, unsubscribeURL)
}
