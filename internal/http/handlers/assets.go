package handlers

import (
	"fmt"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"

	"portraitserver/pkg/zip"
)

type assetResponse struct {
	ID         string `json:"id"`
	StorageKey string `json:"storage_key"`
	MIMEType   string `json:"mime_type"`
	Kind       string `json:"kind"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// ListAssets returns the stored asset records for a generation.
func (a *App) ListAssets(w http.ResponseWriter, r *http.Request) {
	generationID := chi.URLParam(r, "id")
	assets, err := a.Assets.ListByGeneration(r.Context(), generationID)
	if err != nil {
		a.Logger.Error().Err(err).Str("generation_id", generationID).Msg("handlers: list assets")
		a.error(w, http.StatusInternalServerError, "list assets")
		return
	}

	out := make([]assetResponse, 0, len(assets))
	for _, asset := range assets {
		out = append(out, assetResponse{
			ID:         asset.ID,
			StorageKey: asset.StorageKey,
			MIMEType:   asset.MIMEType,
			Kind:       string(asset.Kind),
			Width:      asset.Width,
			Height:     asset.Height,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"assets": out})
}

// DownloadArtifacts streams every intermediate file of a generation as one
// zip archive. Intended for debugging rejected or failed generations.
func (a *App) DownloadArtifacts(w http.ResponseWriter, r *http.Request) {
	generationID := chi.URLParam(r, "id")
	keys, err := a.Artifacts.List(r.Context(), generationID)
	if err != nil {
		a.Logger.Error().Err(err).Str("generation_id", generationID).Msg("handlers: list artifacts")
		a.error(w, http.StatusInternalServerError, "list artifacts")
		return
	}
	if len(keys) == 0 {
		a.error(w, http.StatusNotFound, "no artifacts for generation")
		return
	}

	var files []zip.Asset
	for _, key := range keys {
		data, err := a.Artifacts.Read(r.Context(), key)
		if err != nil {
			a.Logger.Warn().Err(err).Str("key", key).Msg("handlers: read artifact")
			continue
		}
		files = append(files, zip.Asset{Filename: path.Base(path.Dir(key)) + "/" + path.Base(key), Data: data})
	}
	archive := zip.ArchiveAssets(files)
	if len(archive) == 0 {
		a.error(w, http.StatusInternalServerError, "build archive")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", generationID+".zip"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}
