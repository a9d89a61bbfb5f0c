package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

var ErrNotConfigured = errors.New("Google Drive archive is not configured")

const uploadURL = "https://www.googleapis.com/upload/drive/v3/files?uploadType=multipart&fields=id,webViewLink"

// Config holds the OAuth2 credentials for the user's personal Drive.
// A pre-obtained refresh token is exchanged for access tokens on demand.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	FolderID     string
}

// Service uploads issued-document artifacts to Google Drive
type Service struct {
	cfg         Config
	tokenSource oauth2.TokenSource
}

// NewService creates a new Drive archive service
func NewService(cfg Config) *Service {
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{"https://www.googleapis.com/auth/drive.file"},
		Endpoint:     google.Endpoint,
	}
	var ts oauth2.TokenSource
	if cfg.RefreshToken != "" {
		ts = oauthCfg.TokenSource(context.Background(), &oauth2.Token{RefreshToken: cfg.RefreshToken})
	}
	return &Service{cfg: cfg, tokenSource: ts}
}

// Configured reports whether uploads can be attempted
func (s *Service) Configured() bool {
	return s.tokenSource != nil
}

type uploadedFile struct {
	ID          string `json:"id"`
	WebViewLink string `json:"webViewLink"`
}

// UploadJSON uploads a JSON document under the configured folder and returns
// the Drive file id. Failures here must never fail issuance; callers log and
// move on.
func (s *Service) UploadJSON(ctx context.Context, name string, payload interface{}) (string, error) {
	if s.tokenSource == nil {
		return "", ErrNotConfigured
	}

	content, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", err
	}

	meta := map[string]interface{}{
		"name":     name,
		"mimeType": "application/json",
	}
	if s.cfg.FolderID != "" {
		meta["parents"] = []string{s.cfg.FolderID}
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	metaHeader := textproto.MIMEHeader{}
	metaHeader.Set("Content-Type", "application/json; charset=UTF-8")
	part, err := writer.CreatePart(metaHeader)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(metaBytes); err != nil {
		return "", err
	}

	contentHeader := textproto.MIMEHeader{}
	contentHeader.Set("Content-Type", "application/json")
	part, err = writer.CreatePart(contentHeader)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(content); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	httpClient := oauth2.NewClient(ctx, s.tokenSource)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "multipart/related; boundary="+writer.Boundary())

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("drive upload returned %d: %s", resp.StatusCode, raw)
	}

	var uploaded uploadedFile
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		return "", err
	}
	return uploaded.ID, nil
}
