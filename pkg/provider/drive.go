package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/briefly-ai/briefly/pkg/models"
)

const defaultDriveBaseURL = "https://www.googleapis.com/drive/v3"

// exportableMimeTypes maps provider-native document types to the plain
// text export target. Other text/* types are downloaded directly.
var exportableMimeTypes = map[string]bool{
	"application/vnd.google-apps.document":     true,
	"application/vnd.google-apps.spreadsheet":  true,
	"application/vnd.google-apps.presentation": true,
}

// DriveClient reads file metadata and exportable content.
type DriveClient struct {
	rest    *restClient
	baseURL string
}

// NewDriveClient creates a drive client.
func NewDriveClient(httpClient *http.Client, logger *slog.Logger) *DriveClient {
	return &DriveClient{
		rest:    newRESTClient(httpClient, logger.With("component", "drive_client")),
		baseURL: defaultDriveBaseURL,
	}
}

type fileList struct {
	Files []struct {
		ID           string    `json:"id"`
		Name         string    `json:"name"`
		MimeType     string    `json:"mimeType"`
		Size         int64     `json:"size,string"`
		ModifiedTime time.Time `json:"modifiedTime"`
		WebViewLink  string    `json:"webViewLink"`
		Owners       []struct {
			DisplayName  string `json:"displayName"`
			EmailAddress string `json:"emailAddress"`
		} `json:"owners"`
	} `json:"files"`
	NextPageToken string `json:"nextPageToken"`
}

// ListFiles searches files matching the provider query, resolving
// pagination up to max results. Content is not fetched here.
func (c *DriveClient) ListFiles(ctx context.Context, token, query string, max int) ([]models.DocumentArtifact, error) {
	var out []models.DocumentArtifact
	pageToken := ""
	for len(out) < max {
		params := url.Values{}
		params.Set("q", query)
		params.Set("pageSize", fmt.Sprintf("%d", min(max-len(out), 100)))
		params.Set("fields", "nextPageToken,files(id,name,mimeType,size,modifiedTime,webViewLink,owners)")
		params.Set("orderBy", "modifiedTime desc")
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var page fileList
		if err := c.rest.getJSON(ctx, token, withQuery(c.baseURL+"/files", params), &page); err != nil {
			return nil, fmt.Errorf("failed to list files: %w", err)
		}
		for _, f := range page.Files {
			doc := models.DocumentArtifact{
				ID:           f.ID,
				Name:         f.Name,
				MimeType:     f.MimeType,
				Size:         f.Size,
				ModifiedTime: f.ModifiedTime,
				URL:          f.WebViewLink,
			}
			if len(f.Owners) > 0 {
				doc.Owner = f.Owners[0].DisplayName
				doc.OwnerEmail = f.Owners[0].EmailAddress
			}
			out = append(out, doc)
		}
		if page.NextPageToken == "" || len(page.Files) == 0 {
			break
		}
		pageToken = page.NextPageToken
	}
	if len(out) > max {
		out = out[:max]
	}
	return out, nil
}

// FetchContent fills doc.Content for exportable or plain-text mime
// types; other types are left untouched. Content is truncated at the
// harvest cap.
func (c *DriveClient) FetchContent(ctx context.Context, token string, doc *models.DocumentArtifact) error {
	var u string
	switch {
	case exportableMimeTypes[doc.MimeType]:
		params := url.Values{}
		params.Set("mimeType", "text/plain")
		u = withQuery(c.baseURL+"/files/"+url.PathEscape(doc.ID)+"/export", params)
	case isTextMime(doc.MimeType):
		params := url.Values{}
		params.Set("alt", "media")
		u = withQuery(c.baseURL+"/files/"+url.PathEscape(doc.ID), params)
	default:
		return nil
	}

	body, err := c.rest.get(ctx, token, u)
	if err != nil {
		return fmt.Errorf("failed to fetch content for %s: %w", doc.ID, err)
	}
	doc.Content = models.TruncateBody(string(body))
	return nil
}

func isTextMime(mimeType string) bool {
	switch mimeType {
	case "text/plain", "text/csv", "text/markdown", "application/json":
		return true
	}
	return false
}
