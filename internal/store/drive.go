package store

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"google.golang.org/api/drive/v3"
	"k8s.io/klog/v2"
)

const folderMimeType = "application/vnd.google-apps.folder"

// Asset is one image file in the library tree.
type Asset struct {
	ID   string
	Name string
}

// ImageFolder is one library bucket with its contained image assets.
type ImageFolder struct {
	ID     string
	Name   string
	Images []Asset
}

// DriveStore is the file store adapter: folder management for document
// output and the image library, plus uploads of generated images.
type DriveStore struct {
	svc *drive.Service
}

func NewDriveStore(ctx context.Context, credentials string) (*DriveStore, error) {
	svc, err := drive.NewService(ctx, ClientOptions(credentials)...)
	if err != nil {
		return nil, fmt.Errorf("create drive client: %w", err)
	}
	return &DriveStore{svc: svc}, nil
}

// FindFolder looks a folder up by name under a parent, returning an empty ID
// when absent.
func (s *DriveStore) FindFolder(ctx context.Context, name, parentID string) (string, error) {
	q := fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false", escapeQuery(name), folderMimeType)
	if parentID != "" {
		q += fmt.Sprintf(" and '%s' in parents", escapeQuery(parentID))
	}

	resp, err := s.svc.Files.List().Q(q).Fields("files(id, name)").
		SupportsAllDrives(true).IncludeItemsFromAllDrives(true).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("find folder %q: %w", name, err)
	}
	if len(resp.Files) == 0 {
		return "", nil
	}
	return resp.Files[0].Id, nil
}

func (s *DriveStore) CreateFolder(ctx context.Context, name, parentID string) (string, error) {
	meta := &drive.File{
		Name:     name,
		MimeType: folderMimeType,
	}
	if parentID != "" {
		meta.Parents = []string{parentID}
	}

	f, err := s.svc.Files.Create(meta).SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("create folder %q: %w", name, err)
	}
	klog.V(6).Infof("[DriveStore.CreateFolder] created: name=%q, id=%s", name, f.Id)
	return f.Id, nil
}

var yearMonthPattern = regexp.MustCompile(`(\d{4})年(\d{1,2})月`)

// MonthlyFolderName derives the output folder name from the spreadsheet
// title, falling back to the current month when the title carries no date.
func MonthlyFolderName(spreadsheetTitle string, now time.Time) string {
	if m := yearMonthPattern.FindStringSubmatch(spreadsheetTitle); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		return fmt.Sprintf("%d年%d月", year, month)
	}
	return fmt.Sprintf("%d年%d月", now.Year(), int(now.Month()))
}

// EnsureMonthlyFolder gets or creates the month-named folder under the
// configured parent.
func (s *DriveStore) EnsureMonthlyFolder(ctx context.Context, parentID, spreadsheetTitle string, now time.Time) (string, error) {
	name := MonthlyFolderName(spreadsheetTitle, now)
	id, err := s.FindFolder(ctx, name, parentID)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	return s.CreateFolder(ctx, name, parentID)
}

// ListImageFolders loads the whole library tree under the root: every
// subfolder with its image files. Callers cache the result per run.
func (s *DriveStore) ListImageFolders(ctx context.Context, rootID string) ([]ImageFolder, error) {
	q := fmt.Sprintf("'%s' in parents and mimeType = '%s' and trashed = false", escapeQuery(rootID), folderMimeType)
	resp, err := s.svc.Files.List().Q(q).Fields("files(id, name)").
		SupportsAllDrives(true).IncludeItemsFromAllDrives(true).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list image folders: %w", err)
	}

	var folders []ImageFolder
	for _, f := range resp.Files {
		images, err := s.listImages(ctx, f.Id)
		if err != nil {
			return nil, err
		}
		folders = append(folders, ImageFolder{ID: f.Id, Name: f.Name, Images: images})
	}
	klog.V(6).Infof("[DriveStore.ListImageFolders] loaded: folders=%d", len(folders))
	return folders, nil
}

func (s *DriveStore) listImages(ctx context.Context, folderID string) ([]Asset, error) {
	q := fmt.Sprintf("'%s' in parents and mimeType contains 'image/' and trashed = false", escapeQuery(folderID))
	resp, err := s.svc.Files.List().Q(q).Fields("files(id, name)").
		SupportsAllDrives(true).IncludeItemsFromAllDrives(true).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list images in %s: %w", folderID, err)
	}

	assets := make([]Asset, 0, len(resp.Files))
	for _, f := range resp.Files {
		assets = append(assets, Asset{ID: f.Id, Name: f.Name})
	}
	return assets, nil
}

// UploadPNG stores generated image bytes and returns the new file ID.
func (s *DriveStore) UploadPNG(ctx context.Context, folderID, name string, data []byte) (string, error) {
	meta := &drive.File{
		Name:     name,
		MimeType: "image/png",
	}
	if folderID != "" {
		meta.Parents = []string{folderID}
	}

	f, err := s.svc.Files.Create(meta).Media(bytes.NewReader(data)).
		SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("upload %q: %w", name, err)
	}
	klog.V(6).Infof("[DriveStore.UploadPNG] uploaded: name=%q, id=%s, bytes=%d", name, f.Id, len(data))
	return f.Id, nil
}

// EnsurePublicRead grants link-holders read access so the document store can
// fetch the image by URL.
func (s *DriveStore) EnsurePublicRead(ctx context.Context, fileID string) error {
	_, err := s.svc.Permissions.Create(fileID, &drive.Permission{
		Type: "anyone",
		Role: "reader",
	}).SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("set permission on %s: %w", fileID, err)
	}
	return nil
}

// ImageURL is the direct-content URL form the document store accepts for
// inline image fetches.
func ImageURL(fileID string) string {
	return fmt.Sprintf("https://lh3.googleusercontent.com/d/%s", fileID)
}
