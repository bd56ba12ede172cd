package ingest

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/rs/zerolog"

	"mediaingest/internal/content"
	"mediaingest/internal/models"
)

// MediaRepository is the persistence the attacher needs.
type MediaRepository interface {
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	UpsertProductMedia(ctx context.Context, rec *models.MediaRecord) (bool, error)
	AttachVariantImage(ctx context.Context, rec *models.MediaRecord, link *models.VariantImageLink) (bool, error)
}

type Attachment struct {
	Record  *models.MediaRecord
	Link    *models.VariantImageLink
	Created bool
}

// Attacher records fetched files against products and product variants.
// Attaching is keyed on (owner, order), so repeating it updates in place.
type Attacher struct {
	repo   MediaRepository
	store  content.Store
	namer  FileNamer
	thumbs *Thumbnailer
	log    zerolog.Logger
}

func NewAttacher(repo MediaRepository, store content.Store, namer FileNamer, thumbs *Thumbnailer, log zerolog.Logger) *Attacher {
	if namer == nil {
		namer = SlugNamer{}
	}
	return &Attacher{
		repo:   repo,
		store:  store,
		namer:  namer,
		thumbs: thumbs,
		log:    log.With().Str("component", "attacher").Logger(),
	}
}

func (a *Attacher) AttachProduct(ctx context.Context, productID int64, file *FetchResult, order int) (*Attachment, error) {
	rec := &models.MediaRecord{
		OwnerType:    models.OwnerProduct,
		OwnerID:      productID,
		Collection:   models.CollectionImages,
		FileName:     path.Base(file.Path),
		FilePath:     file.Path,
		MimeType:     file.MimeType,
		Size:         file.Size,
		DisplayOrder: order,
	}
	rec.ThumbnailPath = a.thumbnail(ctx, file.Path)

	created, err := a.repo.UpsertProductMedia(ctx, rec)
	if err != nil {
		return nil, err
	}

	a.log.Info().Int64("media_id", rec.ID).Int64("product_id", productID).Int("order", order).
		Bool("created", created).Msg("product image attached")
	return &Attachment{Record: rec, Created: created}, nil
}

func (a *Attacher) AttachVariant(ctx context.Context, variantID, productID int64, file *FetchResult, order int) (*Attachment, error) {
	product, err := a.repo.GetProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("resolve product: %w", err)
	}

	name, err := a.namer.FileName(product, variantID, order, path.Ext(file.Path))
	if err != nil {
		if !errors.Is(err, ErrNaming) {
			err = fmt.Errorf("%w: %v", ErrNaming, err)
		}
		return nil, err
	}

	dest := fmt.Sprintf("variants/%d/%s", productID, name)
	if err := content.Copy(ctx, a.store, file.Path, dest, file.MimeType); err != nil {
		return nil, fmt.Errorf("copy %s to %s: %w", file.Path, dest, err)
	}

	rec := &models.MediaRecord{
		OwnerType:    models.OwnerProductVariant,
		OwnerID:      variantID,
		Collection:   models.CollectionImages,
		FileName:     name,
		FilePath:     dest,
		MimeType:     file.MimeType,
		Size:         file.Size,
		DisplayOrder: order,
	}
	rec.ThumbnailPath = a.thumbnail(ctx, dest)

	link := &models.VariantImageLink{
		VariantID:    variantID,
		ProductID:    productID,
		DisplayOrder: order,
	}
	created, err := a.repo.AttachVariantImage(ctx, rec, link)
	if err != nil {
		return nil, err
	}

	a.log.Info().Int64("media_id", rec.ID).Int64("variant_id", variantID).Int64("product_id", productID).
		Int("order", order).Bool("created", created).Msg("variant image attached")
	return &Attachment{Record: rec, Link: link, Created: created}, nil
}

// thumbnail is best effort; a file that cannot be decoded still gets attached.
func (a *Attacher) thumbnail(ctx context.Context, key string) string {
	if a.thumbs == nil {
		return ""
	}
	thumbKey, err := a.thumbs.Generate(ctx, key)
	if err != nil {
		a.log.Warn().Err(err).Str("path", key).Msg("thumbnail skipped")
		return ""
	}
	return thumbKey
}
