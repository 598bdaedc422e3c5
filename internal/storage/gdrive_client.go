package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// ErrNoToken is returned when no cached OAuth token exists and the server
// cannot prompt for one
var ErrNoToken = errors.New("no cached Google Drive token; run the authorize step first")

// DriveClient mirrors saved transcripts to Google Drive
type DriveClient struct {
	service    *drive.Service
	folderName string
	folderID   string
}

// NewDriveClient creates a new Google Drive client from a cached token
func NewDriveClient(ctx context.Context, credentialsFile, tokenFile, folderName string) (*DriveClient, error) {
	config, err := driveConfig(credentialsFile)
	if err != nil {
		return nil, err
	}

	tok, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoToken, err)
	}

	return newDriveClient(ctx, config.Client(ctx, tok), folderName)
}

func newDriveClient(ctx context.Context, client *http.Client, folderName string, opts ...option.ClientOption) (*DriveClient, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	srv, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Drive service: %w", err)
	}

	dc := &DriveClient{
		service:    srv,
		folderName: folderName,
	}

	// Find or create the root folder
	if err := dc.ensureFolder(ctx); err != nil {
		return nil, err
	}

	return dc, nil
}

func driveConfig(credentialsFile string) (*oauth2.Config, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}
	return config, nil
}

// AuthURL returns the consent page URL for the interactive authorize step
func AuthURL(credentialsFile string) (string, error) {
	config, err := driveConfig(credentialsFile)
	if err != nil {
		return "", err
	}
	return config.AuthCodeURL("state-token", oauth2.AccessTypeOffline), nil
}

// Authorize exchanges an authorization code and caches the token
func Authorize(ctx context.Context, credentialsFile, tokenFile, authCode string) error {
	config, err := driveConfig(credentialsFile)
	if err != nil {
		return err
	}

	tok, err := config.Exchange(ctx, strings.TrimSpace(authCode))
	if err != nil {
		return fmt.Errorf("unable to retrieve token from web: %w", err)
	}
	return saveToken(tokenFile, tok)
}

// tokenFromFile retrieves a token from a local file
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

// saveToken saves a token to a file path
func saveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to cache oauth token: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// ensureFolder finds or creates the root folder
func (dc *DriveClient) ensureFolder(ctx context.Context) error {
	id, err := dc.findOrCreateFolder(ctx, dc.folderName, "")
	if err != nil {
		return fmt.Errorf("unable to find or create folder %q: %w", dc.folderName, err)
	}
	dc.folderID = id
	return nil
}

// Upload mirrors the saved result files into Transcripts/2025/01/23/ and
// returns a link to the result document
func (dc *DriveClient) Upload(ctx context.Context, paths *SavedPaths) (string, error) {
	folderID, err := dc.ensureDateFolder(ctx, time.Now())
	if err != nil {
		return "", err
	}

	if _, err := dc.uploadFile(ctx, folderID, paths.Text, "text/plain"); err != nil {
		return "", fmt.Errorf("failed to upload transcript: %w", err)
	}
	if paths.Meta != "" {
		if _, err := dc.uploadFile(ctx, folderID, paths.Meta, "application/json"); err != nil {
			return "", fmt.Errorf("failed to upload metadata: %w", err)
		}
	}
	resultID, err := dc.uploadFile(ctx, folderID, paths.Result, "application/json")
	if err != nil {
		return "", fmt.Errorf("failed to upload result log: %w", err)
	}

	return fmt.Sprintf("https://drive.google.com/file/d/%s/view", resultID), nil
}

func (dc *DriveClient) uploadFile(ctx context.Context, folderID, path, mimeType string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	file := &drive.File{
		Name:     filepath.Base(path),
		MimeType: mimeType,
		Parents:  []string{folderID},
	}
	created, err := dc.service.Files.Create(file).Media(f).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return created.Id, nil
}

// ensureDateFolder creates nested year/month/day folders
func (dc *DriveClient) ensureDateFolder(ctx context.Context, t time.Time) (string, error) {
	parent := dc.folderID
	for _, name := range []string{
		fmt.Sprintf("%d", t.Year()),
		fmt.Sprintf("%02d", t.Month()),
		fmt.Sprintf("%02d", t.Day()),
	} {
		id, err := dc.findOrCreateFolder(ctx, name, parent)
		if err != nil {
			return "", err
		}
		parent = id
	}
	return parent, nil
}

// findOrCreateFolder finds or creates a folder with the given parent.
// An empty parent searches the whole drive.
func (dc *DriveClient) findOrCreateFolder(ctx context.Context, name, parentID string) (string, error) {
	query := fmt.Sprintf("name='%s' and mimeType='application/vnd.google-apps.folder' and trashed=false",
		escapeQuery(name))
	if parentID != "" {
		query += fmt.Sprintf(" and '%s' in parents", escapeQuery(parentID))
	}

	r, err := dc.service.Files.List().Q(query).Spaces("drive").Fields("files(id)").Context(ctx).Do()
	if err != nil {
		return "", err
	}

	if len(r.Files) > 0 {
		return r.Files[0].Id, nil
	}

	folder := &drive.File{
		Name:     name,
		MimeType: "application/vnd.google-apps.folder",
	}
	if parentID != "" {
		folder.Parents = []string{parentID}
	}

	file, err := dc.service.Files.Create(folder).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", err
	}

	return file.Id, nil
}

func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
