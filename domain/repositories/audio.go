package repositories

import "context"

// FormatCorrector re-encodes a clip to the target profile
type FormatCorrector interface {
	// Correct transcodes data using scratch files under workDir. Nothing it
	// creates there survives the call.
	Correct(ctx context.Context, workDir string, data []byte) ([]byte, error)
}
