package media

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/camden-git/visionledger/clock"
)

// collision retries before Save gives up
const maxSaveAttempts = 4

// Store defines the interface for saving, retrieving, and deleting artifacts
type Store interface {
	// Save writes data under the asset type's directory with a timestamped
	// name derived from logicalName. An existing artifact is never overwritten.
	Save(ctx context.Context, assetType AssetType, logicalName string, data []byte) (Reference, error)
	// Read returns the full artifact, ErrArtifactNotFound if it is gone
	Read(ctx context.Context, ref Reference) ([]byte, error)
	// Exists reports whether the artifact is still present
	Exists(ctx context.Context, ref Reference) (bool, error)
	// Delete removes an artifact. A missing artifact is not an error
	Delete(ctx context.Context, ref Reference) error
}

// LocalStorage implements the Store interface using the local filesystem
type LocalStorage struct {
	basePath        string               // absolute path to the MEDIA_STORAGE_PATH
	resolvedPathMap map[AssetType]string // maps AssetType to full absolute path
	clock           clock.Clock
}

// NewLocalStorage creates a new local filesystem store
func NewLocalStorage(basePath string, subDirs map[AssetType]string, clk clock.Clock) (*LocalStorage, error) {
	absBasePath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("invalid base storage path '%s': %w", basePath, err)
	}

	if err := os.MkdirAll(absBasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base storage directory '%s': %w", absBasePath, err)
	}

	resolvedPaths := make(map[AssetType]string)
	for assetType, subDir := range subDirs {
		fullPath := filepath.Join(absBasePath, subDir)
		if !within(absBasePath, fullPath) {
			return nil, fmt.Errorf("invalid subdirectory configuration: '%s' resolves outside base path '%s'", subDir, absBasePath)
		}
		if err := os.MkdirAll(fullPath, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory '%s': %w", fullPath, err)
		}
		resolvedPaths[assetType] = fullPath
	}

	log.Printf("media.store: Initialized LocalStorage at %s", absBasePath)
	return &LocalStorage{
		basePath:        absBasePath,
		resolvedPathMap: resolvedPaths,
		clock:           clk,
	}, nil
}

// getAssetTypeDir resolves the absolute path for a given asset type
func (ls *LocalStorage) getAssetTypeDir(assetType AssetType) (string, error) {
	dirPath, ok := ls.resolvedPathMap[assetType]
	if !ok {
		return "", fmt.Errorf("asset type '%s' is not configured", assetType)
	}
	return dirPath, nil
}

// Save writes data to a new file. Files are created exclusively, so a
// same-second collision with another upload gets a uuid segment instead of
// replacing it.
func (ls *LocalStorage) Save(ctx context.Context, assetType AssetType, logicalName string, data []byte) (Reference, error) {
	dirPath, err := ls.getAssetTypeDir(assetType)
	if err != nil {
		return Reference{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return Reference{}, fmt.Errorf("%w: failed to ensure directory '%s': %v", ErrStorage, dirPath, err)
	}

	now := ls.clock.Now()
	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Reference{}, fmt.Errorf("%w: %v", ErrStorage, err)
		}

		fullSavePath := filepath.Join(dirPath, artifactName(now, logicalName, attempt > 0))
		err := writeExclusive(fullSavePath, data)
		if errors.Is(err, os.ErrExist) {
			log.Printf("media.store: %s already exists, retrying with a unique suffix", fullSavePath)
			continue
		}
		if err != nil {
			return Reference{}, fmt.Errorf("%w: %v", ErrStorage, err)
		}

		relativePath, err := filepath.Rel(ls.basePath, fullSavePath)
		if err != nil {
			os.Remove(fullSavePath)
			return Reference{}, fmt.Errorf("%w: internal error calculating relative path: %v", ErrStorage, err)
		}

		log.Printf("media.store: Saved asset to %s", fullSavePath)
		return Reference{Path: filepath.ToSlash(relativePath), Size: int64(len(data))}, nil
	}

	return Reference{}, fmt.Errorf("%w: could not find a free name for '%s'", ErrStorage, logicalName)
}

func writeExclusive(fullPath string, data []byte) error {
	outFile, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}

	if _, err = outFile.Write(data); err == nil {
		err = outFile.Sync()
	}
	if closeErr := outFile.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(fullPath)
		return fmt.Errorf("failed to write data to '%s': %w", fullPath, err)
	}
	return nil
}

func (ls *LocalStorage) Read(ctx context.Context, ref Reference) ([]byte, error) {
	fullPath, err := ls.GetFullPath(ref.Path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: '%s'", ErrArtifactNotFound, ref.Path)
		}
		return nil, fmt.Errorf("failed to read asset '%s': %w", ref.Path, err)
	}
	return data, nil
}

func (ls *LocalStorage) Exists(ctx context.Context, ref Reference) (bool, error) {
	fullPath, err := ls.GetFullPath(ref.Path)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat asset '%s': %w", ref.Path, err)
	}
	return info.Mode().IsRegular(), nil
}

// Delete removes an asset file
func (ls *LocalStorage) Delete(ctx context.Context, ref Reference) error {
	fullPath, err := ls.GetFullPath(ref.Path)
	if err != nil {
		return err
	}

	err = os.Remove(fullPath)
	if err != nil && !os.IsNotExist(err) { // Ignore "not exist" errors
		return fmt.Errorf("failed to delete asset '%s': %w", ref.Path, err)
	}
	if err == nil {
		log.Printf("media.store: Deleted asset %s", fullPath)
	}
	return nil
}

// GetFullPath calculates the absolute path and performs security check
func (ls *LocalStorage) GetFullPath(relativePath string) (string, error) {
	if relativePath == "" {
		return "", fmt.Errorf("invalid path: empty artifact reference")
	}

	// clean the relative path first to prevent simple traversal tricks
	cleanRelativePath := filepath.Clean(filepath.FromSlash(relativePath))

	absFullPath, err := filepath.Abs(filepath.Join(ls.basePath, cleanRelativePath))
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for '%s': %w", relativePath, err)
	}

	if !within(ls.basePath, absFullPath) || absFullPath == ls.basePath {
		return "", fmt.Errorf("invalid path: access denied for '%s'", relativePath)
	}

	return absFullPath, nil
}

// within reports whether target is base or lies below it
func within(base, target string) bool {
	rel, err := filepath.Rel(base, filepath.Clean(target))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
