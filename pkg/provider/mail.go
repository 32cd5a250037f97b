package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/briefly-ai/briefly/pkg/models"
)

const defaultMailBaseURL = "https://gmail.googleapis.com/gmail/v1"

// MailClient reads messages from the mail API.
type MailClient struct {
	rest    *restClient
	baseURL string
}

// NewMailClient creates a mail client. A nil httpClient gets the
// default 30 s timeout.
func NewMailClient(httpClient *http.Client, logger *slog.Logger) *MailClient {
	return &MailClient{
		rest:    newRESTClient(httpClient, logger.With("component", "mail_client")),
		baseURL: defaultMailBaseURL,
	}
}

// messageList is the paginated list response.
type messageList struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	NextPageToken string `json:"nextPageToken"`
}

// messagePayload is the nested MIME structure of a full message.
type messagePayload struct {
	MimeType string `json:"mimeType"`
	Filename string `json:"filename"`
	Headers  []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"headers"`
	Body struct {
		Data string `json:"data"`
		Size int    `json:"size"`
	} `json:"body"`
	Parts []messagePayload `json:"parts"`
}

type fullMessage struct {
	ID      string         `json:"id"`
	Snippet string         `json:"snippet"`
	Payload messagePayload `json:"payload"`
}

// ListMessages searches messages matching the provider query and
// resolves pagination up to max results, fetching each full message.
func (c *MailClient) ListMessages(ctx context.Context, token, query string, max int) ([]models.EmailArtifact, error) {
	var ids []string
	pageToken := ""
	for len(ids) < max {
		params := url.Values{}
		params.Set("q", query)
		params.Set("maxResults", fmt.Sprintf("%d", min(max-len(ids), 100)))
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var page messageList
		if err := c.rest.getJSON(ctx, token, withQuery(c.baseURL+"/users/me/messages", params), &page); err != nil {
			return nil, fmt.Errorf("failed to list messages: %w", err)
		}
		for _, m := range page.Messages {
			ids = append(ids, m.ID)
		}
		if page.NextPageToken == "" || len(page.Messages) == 0 {
			break
		}
		pageToken = page.NextPageToken
	}
	if len(ids) > max {
		ids = ids[:max]
	}

	out := make([]models.EmailArtifact, 0, len(ids))
	for _, id := range ids {
		msg, err := c.getMessage(ctx, token, id)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func (c *MailClient) getMessage(ctx context.Context, token, id string) (models.EmailArtifact, error) {
	params := url.Values{}
	params.Set("format", "full")

	var msg fullMessage
	u := withQuery(c.baseURL+"/users/me/messages/"+url.PathEscape(id), params)
	if err := c.rest.getJSON(ctx, token, u, &msg); err != nil {
		return models.EmailArtifact{}, fmt.Errorf("failed to fetch message %s: %w", id, err)
	}
	return toEmailArtifact(&msg), nil
}

func toEmailArtifact(msg *fullMessage) models.EmailArtifact {
	artifact := models.EmailArtifact{
		ID:      msg.ID,
		Snippet: msg.Snippet,
	}
	for _, h := range msg.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "subject":
			artifact.Subject = h.Value
		case "from":
			artifact.From = h.Value
		case "to":
			artifact.To = splitAddressHeader(h.Value)
		case "cc":
			artifact.CC = splitAddressHeader(h.Value)
		case "bcc":
			artifact.BCC = splitAddressHeader(h.Value)
		case "date":
			artifact.Date = h.Value
		}
	}
	artifact.Body = models.TruncateBody(extractBody(&msg.Payload))
	artifact.Attachments = collectAttachments(&msg.Payload, nil)
	return artifact
}

func splitAddressHeader(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// extractBody walks the MIME tree preferring text/plain, falling back
// to text/html, decoding the base64url payload data.
func extractBody(p *messagePayload) string {
	if body := findPart(p, "text/plain"); body != "" {
		return body
	}
	return findPart(p, "text/html")
}

func findPart(p *messagePayload, mimeType string) string {
	if strings.HasPrefix(p.MimeType, mimeType) && p.Body.Data != "" {
		if decoded, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(p.Body.Data); err == nil {
			return string(decoded)
		}
	}
	for i := range p.Parts {
		if body := findPart(&p.Parts[i], mimeType); body != "" {
			return body
		}
	}
	return ""
}

func collectAttachments(p *messagePayload, acc []string) []string {
	if p.Filename != "" {
		acc = append(acc, p.Filename)
	}
	for i := range p.Parts {
		acc = collectAttachments(&p.Parts[i], acc)
	}
	return acc
}
