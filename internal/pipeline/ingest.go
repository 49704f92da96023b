package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/councilkb/councilkb/internal/adapters"
	"github.com/councilkb/councilkb/internal/adapters/drive"
	"github.com/councilkb/councilkb/internal/blob"
	"github.com/councilkb/councilkb/internal/domain"
)

// IngestOptions are the folder-scan flags.
type IngestOptions struct {
	// PurgeMissing deletes documents whose drive id no longer appears in
	// the folder. Off by default.
	PurgeMissing bool
}

// IngestResult is the outcome of one folder scan. Registered lists every
// document seen this run (new or refreshed); failure mid-scan still reports
// the documents registered before the failure as partial progress.
type IngestResult struct {
	Registered []uuid.UUID `json:"registered"`
	Created    int         `json:"created"`
	References int         `json:"references"`
	Purged     int         `json:"purged"`
	// Failed counts files registered in failed status because their
	// original could not be stored durably.
	Failed int `json:"failed"`
}

// IngestFolder mirrors the remote folder into a fresh scratch run, uploads
// each original to the durable blob store, and upserts one Document per file.
// Form-style files become Reference rows instead. The scratch run is purged
// before return; later stages refetch originals from the blob store.
func (p *Pipeline) IngestFolder(ctx context.Context, folderID string, opts IngestOptions) (*IngestResult, error) {
	scratch, err := blob.NewScratch(p.settings.Blob.ScratchDir)
	if err != nil {
		return nil, err
	}
	defer scratch.Purge()

	files, err := p.drive.Sync(ctx, folderID, scratch)
	if err != nil {
		return nil, fmt.Errorf("failed to sync folder %s; %w", folderID, err)
	}

	res := &IngestResult{}
	seen := make(map[string]bool, len(files))

	for _, f := range files {
		seen[f.DriveID] = true

		if f.ReferenceOnly {
			ref := &domain.Reference{
				EventID:     nil,
				Description: f.Name,
				URL:         f.WebURL,
				FileType:    f.MIMEType,
				FileName:    f.Name,
				AccessLevel: domain.AccessRestricted,
			}
			if err := p.store.InsertReference(ctx, ref); err != nil {
				return res, err
			}
			res.References++
			continue
		}

		originalURL, err := p.uploadOriginal(ctx, f.DriveID, f.Name, f.LocalPath)
		if err != nil {
			// The scratch run is purged before the pipeline tasks execute,
			// so a document without a durable original can never be
			// parsed. Register it as failed and keep scanning siblings.
			p.logger.Error("failed to upload original", "name", f.Name, "error", err)
			if regErr := p.registerFailed(ctx, f, err); regErr != nil {
				return res, regErr
			}
			res.Failed++
			continue
		}

		meta, _ := json.Marshal(map[string]any{
			"web_url":     f.WebURL,
			"size":        f.Size,
			"modified_at": f.ModifiedAt,
		})

		doc := &domain.Document{
			DriveID:       &f.DriveID,
			Name:          f.Name,
			Path:          f.LocalPath,
			MIMEType:      f.MIMEType,
			DocType:       guessDocType(f.Name, f.MIMEType),
			AccessLevel:   domain.AccessRestricted,
			OriginalURL:   originalURL,
			TimeDecayDate: f.ModifiedAt,
			Metadata:      meta,
		}

		id, created, err := p.store.UpsertDocumentByDriveID(ctx, doc)
		if err != nil {
			return res, fmt.Errorf("failed to register %q; %w", f.Name, err)
		}
		res.Registered = append(res.Registered, id)
		if created {
			res.Created++
		}
	}

	if opts.PurgeMissing {
		known, err := p.store.ListDriveIDs(ctx)
		if err != nil {
			return res, err
		}
		var gone []uuid.UUID
		for driveID, id := range known {
			if !seen[driveID] {
				gone = append(gone, id)
			}
		}
		if err := p.store.DeleteDocuments(ctx, gone); err != nil {
			return res, err
		}
		res.Purged = len(gone)
	}

	return res, nil
}

// uploadOriginal pushes the synced bytes to the durable store under a key
// derived from the drive id, so reprocessing works after the drive copy
// changes or the scratch run is purged. Transient blob failures retry with
// the standard adapter envelope; the file rewinds before each attempt.
func (p *Pipeline) uploadOriginal(ctx context.Context, driveID, name, localPath string) (*string, error) {
	if p.blobs == nil || localPath == "" {
		return nil, nil
	}

	f, err := os.Open(localPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	key := originalKey(driveID, name)
	var url string
	err = adapters.Retry(ctx, func() error {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return domain.Permanent(err)
		}
		u, err := p.blobs.Put(ctx, key, f, "application/octet-stream")
		if err != nil {
			return err
		}
		url = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &url, nil
}

// registerFailed records a file whose original could not be stored, so the
// failure is visible in document listings instead of silently dropped. A
// later folder scan refreshes and retries it.
func (p *Pipeline) registerFailed(ctx context.Context, f drive.File, cause error) error {
	doc := &domain.Document{
		DriveID:       &f.DriveID,
		Name:          f.Name,
		Path:          f.LocalPath,
		MIMEType:      f.MIMEType,
		DocType:       guessDocType(f.Name, f.MIMEType),
		AccessLevel:   domain.AccessRestricted,
		TimeDecayDate: f.ModifiedAt,
	}

	id, _, err := p.store.UpsertDocumentByDriveID(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to register %q; %w", f.Name, err)
	}
	return p.store.MarkFailed(ctx, id, fmt.Sprintf("ingest: store original: %v", cause))
}

func originalKey(driveID, name string) string {
	ext := path.Ext(name)
	return "originals/" + driveID + ext
}

var extDocTypes = map[string]domain.DocType{
	".doc":  domain.DocTypeWord,
	".docx": domain.DocTypeWord,
	".xls":  domain.DocTypeSpreadsheet,
	".xlsx": domain.DocTypeSpreadsheet,
	".ppt":  domain.DocTypeSlides,
	".pptx": domain.DocTypeSlides,
	".pdf":  domain.DocTypePDF,
	".hwp":  domain.DocTypeHWP,
	".hwpx": domain.DocTypeHWPX,
	".txt":  domain.DocTypeText,
	".md":   domain.DocTypeText,
	".csv":  domain.DocTypeCSV,
	".png":  domain.DocTypeImage,
	".jpg":  domain.DocTypeImage,
	".jpeg": domain.DocTypeImage,
	".gif":  domain.DocTypeImage,
}

// guessDocType maps extension (then MIME prefix) to the doc type enum.
// Classification refines this; ingest only records a best-effort value.
func guessDocType(name, mimeType string) domain.DocType {
	if t, ok := extDocTypes[strings.ToLower(path.Ext(name))]; ok {
		return t
	}
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return domain.DocTypeImage
	case strings.HasPrefix(mimeType, "text/"):
		return domain.DocTypeText
	case strings.Contains(mimeType, "spreadsheet"):
		return domain.DocTypeSpreadsheet
	case strings.Contains(mimeType, "presentation"):
		return domain.DocTypeSlides
	case strings.Contains(mimeType, "word") || strings.Contains(mimeType, "document"):
		return domain.DocTypeWord
	case mimeType == "application/pdf":
		return domain.DocTypePDF
	default:
		return domain.DocTypeOther
	}
}
