// media/types.go
package media

import "errors"

type AssetType string

const (
	AssetTypeUpload    AssetType = "upload"    // images submitted for question answering
	AssetTypeGenerated AssetType = "generated" // text-to-image output
)

var (
	// ErrStorage wraps every failure to write an artifact.
	ErrStorage = errors.New("storage error")
	// ErrArtifactNotFound is returned when a referenced artifact is missing.
	ErrArtifactNotFound = errors.New("artifact not found")
)

// Reference locates a stored artifact. Path is relative to the store root
// and slash separated.
type Reference struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// ImageInfo is what Processor.Inspect learns from decoding an artifact
type ImageInfo struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
}
