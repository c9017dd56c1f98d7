package domain

import "time"

// AssetKind distinguishes deliverables from pipeline intermediates.
type AssetKind string

const (
	AssetKindFinal        AssetKind = "final"
	AssetKindIntermediate AssetKind = "intermediate"
)

// Asset is the durable record of a stored image tied to a generation.
type Asset struct {
	ID           string
	GenerationID string
	JobID        string
	StorageKey   string
	MIMEType     string
	Kind         AssetKind
	Width        int
	Height       int
	CreatedAt    time.Time
}
