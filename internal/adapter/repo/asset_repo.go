package repo

import (
	"context"

	"portraitserver/internal/domain"
	"portraitserver/internal/infra"
	"portraitserver/internal/sqlinline"
)

// AssetRepositoryPG persists generated image records in PostgreSQL.
type AssetRepositoryPG struct {
	db infra.SQLExecutor
}

// NewAssetRepository constructs a new asset repository instance.
func NewAssetRepository(db infra.SQLExecutor) *AssetRepositoryPG {
	return &AssetRepositoryPG{db: db}
}

// SaveAll persists a list of assets.
func (r *AssetRepositoryPG) SaveAll(ctx context.Context, assets []domain.Asset) error {
	for _, a := range assets {
		if _, err := r.db.Exec(ctx, sqlinline.QAssetsInsert,
			a.ID, a.GenerationID, a.JobID, a.StorageKey, a.MIMEType, a.Kind, a.Width, a.Height); err != nil {
			return err
		}
	}
	return nil
}

// ListByGeneration returns all assets belonging to a generation, oldest first.
func (r *AssetRepositoryPG) ListByGeneration(ctx context.Context, generationID string) ([]domain.Asset, error) {
	rows, err := r.db.Query(ctx, sqlinline.QAssetsListByGeneration, generationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []domain.Asset
	for rows.Next() {
		var a domain.Asset
		if err := rows.Scan(&a.ID, &a.GenerationID, &a.JobID, &a.StorageKey, &a.MIMEType, &a.Kind, &a.Width, &a.Height, &a.CreatedAt); err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return assets, nil
}
