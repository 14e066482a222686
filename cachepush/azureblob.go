package cachepush

import (
	"context"
	"fmt"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/service"
	"github.com/qowoz/hercules-ci-agent/logger"
)

const azureBlobHostSuffix = ".blob.core.windows.net"

// AzureBlobConfig identifies the destination container for one push cache
// backed by Azure Blob storage, e.g.
// "https://my-storage-account.blob.core.windows.net/my-container/nar".
type AzureBlobConfig struct {
	StorageAccount string
	Container      string
	Prefix         string
}

// AzureBlobBackend pushes realised store paths to an Azure Blob container.
type AzureBlobBackend struct {
	container string
	prefix    string
	client    *service.Client
	logger    logger.Logger
}

// NewAzureBlobBackend authenticates via the Azure default credential chain
// (the same chain the teacher's Azure uploader client construction uses)
// and returns a Backend for conf.
func NewAzureBlobBackend(l logger.Logger, conf AzureBlobConfig) (*AzureBlobBackend, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("cachepush: default Azure credential: %w", err)
	}

	serviceURL := "https://" + conf.StorageAccount + azureBlobHostSuffix
	client, err := service.NewClient(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("cachepush: creating Azure Blob client: %w", err)
	}

	return &AzureBlobBackend{
		container: conf.Container,
		prefix:    conf.Prefix,
		client:    client,
		logger:    l,
	}, nil
}

func (b *AzureBlobBackend) Push(ctx context.Context, storePath string) error {
	f, err := os.Open(storePath)
	if err != nil {
		return fmt.Errorf("cachepush: opening %q: %w", storePath, err)
	}
	defer f.Close()

	blobName := b.blobName(storePath)
	b.logger.Debug("cachepush: uploading %q to container %q blob %q", storePath, b.container, blobName)

	bbc := b.client.NewContainerClient(b.container).NewBlockBlobClient(blobName)
	_, err = bbc.UploadFile(ctx, f, nil)
	return err
}

func (b *AzureBlobBackend) blobName(storePath string) string {
	base := storePathBase(storePath)
	if b.prefix == "" {
		return base
	}
	return b.prefix + "/" + base
}
