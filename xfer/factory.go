package xfer

import (
	"context"

	"github.com/pkg/errors"
)

// FactoryConfig carries the driver-specific settings needed to construct
// whichever Backend TRANSFER_BACKEND names (§9 "the split... should be made
// a configuration choice").
type FactoryConfig struct {
	Backend string // "s3", "gcs", "azure", "hdfs", "file"

	S3Region, S3Endpoint string

	AzureServiceURL, AzureAccount, AzureKey string

	HDFSNamenode, HDFSUser string
}

func New(ctx context.Context, cfg FactoryConfig) (Backend, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileMove(), nil
	case "s3":
		return NewS3(ctx, cfg.S3Region, cfg.S3Endpoint)
	case "gcs":
		return NewGCS(ctx)
	case "azure":
		return NewAzure(cfg.AzureServiceURL, cfg.AzureAccount, cfg.AzureKey)
	case "hdfs":
		return NewHDFS(cfg.HDFSNamenode, cfg.HDFSUser)
	default:
		return nil, errors.Errorf("unknown TRANSFER_BACKEND %q", cfg.Backend)
	}
}
