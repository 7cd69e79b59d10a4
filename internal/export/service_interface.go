package export

import (
	"context"
	"io"
)

// ExportServiceInterface defines the contract for export services.
type ExportServiceInterface interface {
	// Export writes a session archive to disk.
	Export(ctx context.Context, config *ExportConfig) (*ExportResult, error)

	// WriteTo streams a session archive to w.
	WriteTo(ctx context.Context, w io.Writer, sessionID string) (*ExportResult, error)
}

// Ensure *ExportService implements the interface at compile time.
var _ ExportServiceInterface = (*ExportService)(nil)
