// Package gdrive mirrors session artifacts into a Google Drive folder, one
// subfolder per session.
package gdrive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

const (
	folderMime = "application/vnd.google-apps.folder"
	docMime    = "application/vnd.google-apps.document"
)

type Syncer struct {
	service *drive.Service
	rootID  string

	mu      sync.Mutex
	folders map[string]string // session id -> folder id
	docs    map[string]string // folder id + "/" + doc name -> file id
}

func NewSyncer(ctx context.Context, credPath, rootID string) (*Syncer, error) {
	raw, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSONWithTypeAndParams(ctx, raw, google.ServiceAccount,
		google.CredentialsParams{Scopes: []string{drive.DriveFileScope}})
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return NewSyncerWithOptions(ctx, rootID, option.WithCredentials(creds))
}

// NewSyncerWithOptions builds a syncer on an arbitrary Drive client
// configuration, such as a test endpoint.
func NewSyncerWithOptions(ctx context.Context, rootID string, opts ...option.ClientOption) (*Syncer, error) {
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return &Syncer{
		service: svc,
		rootID:  rootID,
		folders: make(map[string]string),
		docs:    make(map[string]string),
	}, nil
}

// Sync uploads each artifact as a Google Doc in the session's folder. A doc
// with the same name is replaced, whether this process created it or not.
func (s *Syncer) Sync(ctx context.Context, sessionID string, paths ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	folderID, err := s.sessionFolder(ctx, sessionID)
	if err != nil {
		return err
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := s.upload(ctx, folderID, p); err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) sessionFolder(ctx context.Context, sessionID string) (string, error) {
	if id, ok := s.folders[sessionID]; ok {
		return id, nil
	}
	id, err := s.find(ctx, s.rootID, sessionID, folderMime)
	if err != nil {
		return "", err
	}
	if id == "" {
		folder, err := s.service.Files.Create(&drive.File{
			Name:     sessionID,
			MimeType: folderMime,
			Parents:  []string{s.rootID},
		}).Fields("id").Context(ctx).Do()
		if err != nil {
			return "", fmt.Errorf("drive create folder %s: %w", sessionID, err)
		}
		id = folder.Id
	}
	s.folders[sessionID] = id
	return id, nil
}

func (s *Syncer) upload(ctx context.Context, folderID, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	name := DocName(localPath)
	key := folderID + "/" + name
	fileID, ok := s.docs[key]
	if !ok {
		if fileID, err = s.find(ctx, folderID, name, docMime); err != nil {
			return err
		}
	}

	if fileID != "" {
		if _, err := s.service.Files.Update(fileID, &drive.File{}).Media(f).Fields("id").Context(ctx).Do(); err != nil {
			return fmt.Errorf("drive update %s: %w", name, err)
		}
		s.docs[key] = fileID
		return nil
	}

	doc, err := s.service.Files.Create(&drive.File{
		Name:     name,
		MimeType: docMime,
		Parents:  []string{folderID},
	}).Media(f).Fields("id").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("drive create %s: %w", name, err)
	}
	s.docs[key] = doc.Id
	return nil
}

// find returns the id of a live file with this exact name under parent, or
// "" when there is none.
func (s *Syncer) find(ctx context.Context, parent, name, mime string) (string, error) {
	q := fmt.Sprintf("name = '%s' and '%s' in parents and mimeType = '%s' and trashed = false",
		quote(name), quote(parent), mime)
	list, err := s.service.Files.List().Q(q).Fields("files(id)").PageSize(1).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("drive lookup %s: %w", name, err)
	}
	if len(list.Files) == 0 {
		return "", nil
	}
	return list.Files[0].Id, nil
}

var queryEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

func quote(s string) string { return queryEscaper.Replace(s) }

// DocName is the Drive document name for an artifact: its file name without
// extension.
func DocName(localPath string) string {
	return strings.TrimSuffix(filepath.Base(localPath), filepath.Ext(localPath))
}
