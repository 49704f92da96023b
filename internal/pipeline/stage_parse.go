package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/councilkb/councilkb/internal/adapters/docparse"
	"github.com/councilkb/councilkb/internal/adapters/llm"
	"github.com/councilkb/councilkb/internal/blob"
	"github.com/councilkb/councilkb/internal/config"
	"github.com/councilkb/councilkb/internal/domain"
	"github.com/councilkb/councilkb/internal/store"
)

// captionFence wraps synthesized image captions so downstream stages can
// tell them apart from authored text.
const (
	captionFenceOpen  = "<!-- caption:begin -->"
	captionFenceClose = "<!-- caption:end -->"
)

// parseStage converts the original file to markdown, uploads extracted
// images, and merges synthesized captions inline.
type parseStage struct {
	store    *store.Store
	parser   docparse.Parser
	llm      llm.Client
	blobs    blob.Store
	settings *config.Settings
	logger   *slog.Logger
}

func newParseStage(s *store.Store, p docparse.Parser, l llm.Client, b blob.Store,
	cfg *config.Settings, logger *slog.Logger) *parseStage {
	return &parseStage{store: s, parser: p, llm: l, blobs: b, settings: cfg, logger: logger}
}

func (st *parseStage) Step() int    { return domain.StepParse }
func (st *parseStage) Name() string { return "parse" }

func (st *parseStage) Run(ctx context.Context, doc *domain.Document, _ RunOptions) error {
	localPath, cleanup, err := st.materialize(ctx, doc)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := st.parser.Parse(ctx, localPath)
	if err != nil {
		return err
	}
	if strings.TrimSpace(res.Markdown) == "" {
		return domain.StageFailedf("parse produced empty content for %q", doc.Name)
	}

	merged, err := st.mergeCaptions(ctx, doc, res)
	if err != nil {
		return err
	}

	return st.store.WithTx(ctx, func(tx pgx.Tx) error {
		return st.store.SetParsedContent(ctx, tx, doc.ID, merged, doc.OriginalURL)
	})
}

// materialize returns a readable local path for the document: the synced
// scratch path when it still exists, otherwise a fresh download of the
// stored original.
func (st *parseStage) materialize(ctx context.Context, doc *domain.Document) (string, func(), error) {
	if doc.Path != "" {
		if _, err := os.Stat(doc.Path); err == nil {
			return doc.Path, func() {}, nil
		}
	}

	if st.blobs == nil || doc.DriveID == nil {
		return "", nil, domain.StageFailedf("no readable source for %q", doc.Name)
	}

	body, err := st.blobs.Get(ctx, originalKey(*doc.DriveID, doc.Name))
	if err != nil {
		return "", nil, fmt.Errorf("failed to fetch original for %q; %w", doc.Name, err)
	}
	defer body.Close()

	scratch, err := blob.NewScratch(st.settings.Blob.ScratchDir)
	if err != nil {
		return "", nil, err
	}
	local, err := scratch.WriteFile(doc.Name, body)
	if err != nil {
		scratch.Purge()
		return "", nil, err
	}
	return local, func() { scratch.Purge() }, nil
}

type captionResult struct {
	placeholder string
	text        string
}

// mergeCaptions uploads image assets, captions them with bounded fan-out,
// and substitutes each placeholder with its fenced caption. Table assets
// already live in the markdown as tables; only images are captioned.
func (st *parseStage) mergeCaptions(ctx context.Context, doc *domain.Document, res *docparse.Result) (string, error) {
	images := make([]docparse.Asset, 0, len(res.Assets))
	for _, a := range res.Assets {
		if a.Kind == docparse.AssetImage && len(a.Bytes) > 0 {
			images = append(images, a)
		}
	}
	if len(images) == 0 {
		return res.Markdown, nil
	}

	var mu sync.Mutex
	captions := make([]captionResult, 0, len(images))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(st.settings.Queue.StageFanout)

	for _, a := range images {
		g.Go(func() error {
			if st.blobs != nil && doc.DriveID != nil {
				key := fmt.Sprintf("images/%s/%s.png", *doc.DriveID, a.ID)
				if _, err := st.blobs.Put(gctx, key, bytes.NewReader(a.Bytes), "image/png"); err != nil {
					st.logger.Warn("failed to upload image asset", "asset", a.ID, "error", err)
				}
			}

			hint := "image"
			if looksTabular(a) {
				hint = "table"
			}
			text, err := st.llm.Caption(gctx, a.Bytes, hint)
			if err != nil {
				return err
			}

			mu.Lock()
			captions = append(captions, captionResult{placeholder: a.Placeholder, text: text})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	merged := res.Markdown
	for _, c := range captions {
		fenced := captionFenceOpen + "\n" + c.text + "\n" + captionFenceClose
		if c.placeholder != "" && strings.Contains(merged, c.placeholder) {
			merged = strings.Replace(merged, c.placeholder, fenced, 1)
		} else {
			merged += "\n\n" + fenced
		}
	}
	return merged, nil
}

// looksTabular guesses whether an image asset holds a table, from the
// parser's own kind hint on wide flat bounding boxes.
func looksTabular(a docparse.Asset) bool {
	w := a.BBox[2] - a.BBox[0]
	h := a.BBox[3] - a.BBox[1]
	return h > 0 && w/h > 2.5
}
