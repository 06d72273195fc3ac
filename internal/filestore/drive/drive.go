// Package drive stores photos in Google Drive under a folder tree
// root/{ownerKey}/{batchId}/{itemId}.
package drive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/sipico/checklist-bff/internal/filestore"
	"github.com/sipico/checklist-bff/internal/metrics"
)

const folderMimeType = "application/vnd.google-apps.folder"

// Default folder cache sizing.
const (
	DefaultFolderCacheSize = 1024
	DefaultFolderCacheTTL  = 30 * time.Minute
)

// Config holds Drive connection settings.
type Config struct {
	// CredentialsJSON is either an OAuth client secret (used with
	// RefreshToken) or a service account key.
	CredentialsJSON []byte
	RefreshToken    string
	RootFolderID    string

	FolderCacheSize int
	FolderCacheTTL  time.Duration

	// Endpoint and HTTPClient override the API location and transport.
	Endpoint   string
	HTTPClient *http.Client
}

// api is the subset of Drive operations the store needs.
type api interface {
	findFolder(ctx context.Context, name, parentID string) (string, error)
	createFolder(ctx context.Context, name, parentID string) (string, error)
	createFile(ctx context.Context, name, mimeType, parentID string, body io.Reader) (string, error)
	download(ctx context.Context, id string) (*http.Response, error)
}

// Store is a filestore.Store backed by Google Drive.
type Store struct {
	api     api
	root    string
	folders *expirable.LRU[string, string]
	logger  *slog.Logger

	// mu serializes folder provisioning so concurrent uploads to a new
	// item do not create sibling folders with the same name.
	mu sync.Mutex
}

var _ filestore.Store = (*Store)(nil)

// New connects to Drive with cfg.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.RootFolderID == "" {
		return nil, errors.New("drive: root folder id is required")
	}

	var opts []option.ClientOption
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	} else {
		ts, err := tokenSource(ctx, cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, option.WithTokenSource(ts))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	svc, err := drivev3.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("drive: failed to create service: %w", err)
	}
	return newStore(&serviceAPI{svc: svc}, cfg, logger), nil
}

func newStore(a api, cfg Config, logger *slog.Logger) *Store {
	size := cfg.FolderCacheSize
	if size <= 0 {
		size = DefaultFolderCacheSize
	}
	ttl := cfg.FolderCacheTTL
	if ttl <= 0 {
		ttl = DefaultFolderCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		api:     a,
		root:    cfg.RootFolderID,
		folders: expirable.NewLRU[string, string](size, nil, ttl),
		logger:  logger,
	}
}

// tokenSource builds credentials from either an OAuth client plus refresh
// token or a service account key.
func tokenSource(ctx context.Context, cfg Config) (oauth2.TokenSource, error) {
	if len(cfg.CredentialsJSON) == 0 {
		return nil, errors.New("drive: credentials are required")
	}
	if cfg.RefreshToken != "" {
		oc, err := google.ConfigFromJSON(cfg.CredentialsJSON, drivev3.DriveScope)
		if err != nil {
			return nil, fmt.Errorf("drive: invalid OAuth client credentials: %w", err)
		}
		return oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken}), nil
	}
	creds, err := google.CredentialsFromJSON(ctx, cfg.CredentialsJSON, drivev3.DriveScope)
	if err != nil {
		return nil, fmt.Errorf("drive: invalid service account credentials: %w", err)
	}
	return creds.TokenSource, nil
}

// Put uploads u into its item folder, creating missing folders on the way.
func (s *Store) Put(ctx context.Context, u filestore.Upload) (string, error) {
	parent, err := s.ensurePath(ctx, u.OwnerKey, u.BatchID, u.ItemID)
	if err != nil {
		return "", err
	}
	id, err := s.api.createFile(ctx, u.Name, u.MimeType, parent, u.Body)
	if err != nil {
		return "", fmt.Errorf("drive: upload %q: %w", u.Name, err)
	}
	s.logger.Debug("drive upload complete", "file_id", id, "folder_id", parent, "mime_type", u.MimeType)
	return id, nil
}

// Open streams a file. The returned body is tied to ctx.
func (s *Store) Open(ctx context.Context, id string) (*filestore.Object, error) {
	resp, err := s.api.download(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", filestore.ErrNotFound, id)
		}
		return nil, fmt.Errorf("drive: download %s: %w", id, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &filestore.Object{
		Body:        resp.Body,
		ContentType: contentType,
		Size:        resp.ContentLength,
	}, nil
}

func (s *Store) ensurePath(ctx context.Context, segments ...string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent := s.root
	for _, name := range segments {
		if name == "" {
			return "", errors.New("drive: empty folder name")
		}
		id, err := s.ensureFolder(ctx, name, parent)
		if err != nil {
			return "", err
		}
		parent = id
	}
	return parent, nil
}

func (s *Store) ensureFolder(ctx context.Context, name, parentID string) (string, error) {
	key := parentID + "/" + name
	if id, ok := s.folders.Get(key); ok {
		metrics.RecordCacheLookup("drive_folders", true)
		return id, nil
	}
	metrics.RecordCacheLookup("drive_folders", false)

	id, err := s.api.findFolder(ctx, name, parentID)
	if err != nil {
		return "", fmt.Errorf("drive: find folder %q: %w", name, err)
	}
	if id == "" {
		id, err = s.api.createFolder(ctx, name, parentID)
		if err != nil {
			return "", fmt.Errorf("drive: create folder %q: %w", name, err)
		}
		s.logger.Info("drive folder created", "name", name, "parent_id", parentID, "folder_id", id)
	}

	s.folders.Add(key, id)
	return id, nil
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

// escapeQuery quotes a value for a Drive files.list query string literal.
func escapeQuery(v string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v)
}

// serviceAPI implements api with the Drive v3 client.
type serviceAPI struct {
	svc *drivev3.Service
}

func (a *serviceAPI) findFolder(ctx context.Context, name, parentID string) (string, error) {
	q := fmt.Sprintf("name = '%s' and '%s' in parents and mimeType = '%s' and trashed = false",
		escapeQuery(name), escapeQuery(parentID), folderMimeType)
	list, err := a.svc.Files.List().
		Q(q).
		Fields("files(id)").
		PageSize(1).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", err
	}
	if len(list.Files) == 0 {
		return "", nil
	}
	return list.Files[0].Id, nil
}

func (a *serviceAPI) createFolder(ctx context.Context, name, parentID string) (string, error) {
	f, err := a.svc.Files.Create(&drivev3.File{
		Name:     name,
		MimeType: folderMimeType,
		Parents:  []string{parentID},
	}).Fields("id").SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return f.Id, nil
}

func (a *serviceAPI) createFile(ctx context.Context, name, mimeType, parentID string, body io.Reader) (string, error) {
	f, err := a.svc.Files.Create(&drivev3.File{
		Name:     name,
		MimeType: mimeType,
		Parents:  []string{parentID},
	}).Media(body, googleapi.ContentType(mimeType)).Fields("id").SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return f.Id, nil
}

func (a *serviceAPI) download(ctx context.Context, id string) (*http.Response, error) {
	return a.svc.Files.Get(id).SupportsAllDrives(true).Context(ctx).Download()
}
