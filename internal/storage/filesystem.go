// Package storage persists binary assets and intermediate workflow buffers.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"portraitserver/internal/domain"
	"portraitserver/internal/engine"
)

// FileStore persists assets onto the local filesystem. It is intended for
// development and test environments where an object storage service is not
// available.
type FileStore struct {
	basePath string
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Write persists the provided bytes at the given relative key and returns the
// canonicalized storage key. Keys are cleaned to prevent directory traversal.
func (s *FileStore) Write(ctx context.Context, key string, data []byte) (string, error) {
	if s == nil {
		return "", errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(cleanKey))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("storage: ensure directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", fmt.Errorf("storage: write file: %w", err)
	}
	return cleanKey, nil
}

// Read returns the bytes stored at key.
func (s *FileStore) Read(ctx context.Context, key string) ([]byte, error) {
	if s == nil {
		return nil, errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.basePath, filepath.FromSlash(cleanKey)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("storage: %q: %w", cleanKey, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("storage: read file: %w", err)
	}
	return data, nil
}

// DownloadAsset satisfies the engine's asset loader port.
func (s *FileStore) DownloadAsset(ctx context.Context, key string) ([]byte, error) {
	return s.Read(ctx, key)
}

// List returns every stored key under prefix, sorted. Metadata sidecars are
// excluded.
func (s *FileStore) List(ctx context.Context, prefix string) ([]string, error) {
	if s == nil {
		return nil, errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cleanPrefix := ""
	if strings.TrimSpace(prefix) != "" {
		var err error
		cleanPrefix, err = sanitizeKey(prefix)
		if err != nil {
			return nil, err
		}
	}

	var keys []string
	root := s.basePath
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasSuffix(key, metaSuffix) {
			return nil
		}
		if cleanPrefix != "" && !strings.HasPrefix(key, cleanPrefix) {
			return nil
		}
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// metaSuffix marks the JSON sidecar that carries buffer metadata.
const metaSuffix = ".meta.json"

type bufferMeta struct {
	MIMEType    string `json:"mime_type,omitempty"`
	Description string `json:"description,omitempty"`
}

// SaveBuffer stores an intermediate buffer plus a metadata sidecar and
// satisfies the engine's intermediate store port.
func (s *FileStore) SaveBuffer(ctx context.Context, data []byte, info engine.BufferInfo) (engine.SavedBuffer, error) {
	key, err := s.Write(ctx, info.FileName, data)
	if err != nil {
		return engine.SavedBuffer{}, err
	}
	meta, err := json.Marshal(bufferMeta{MIMEType: info.MIMEType, Description: info.Description})
	if err != nil {
		return engine.SavedBuffer{}, fmt.Errorf("storage: marshal metadata: %w", err)
	}
	if _, err := s.Write(ctx, key+metaSuffix, meta); err != nil {
		return engine.SavedBuffer{}, err
	}
	return engine.SavedBuffer{Key: key, MIMEType: info.MIMEType, Description: info.Description}, nil
}

// LoadBuffer returns the bytes of a previously saved buffer.
func (s *FileStore) LoadBuffer(ctx context.Context, key string) ([]byte, error) {
	return s.Read(ctx, key)
}

// BufferInfo reads back the metadata sidecar for key.
func (s *FileStore) BufferInfo(ctx context.Context, key string) (engine.SavedBuffer, error) {
	data, err := s.Read(ctx, key+metaSuffix)
	if err != nil {
		return engine.SavedBuffer{}, err
	}
	var meta bufferMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return engine.SavedBuffer{}, fmt.Errorf("storage: unmarshal metadata: %w", err)
	}
	return engine.SavedBuffer{Key: key, MIMEType: meta.MIMEType, Description: meta.Description}, nil
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}
