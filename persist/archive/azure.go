package archive

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/pkg/errors"
)

type azureBackend struct {
	container string
	client    *azblob.Client
}

func newAzure(cfg Config) (Backend, error) {
	client, err := azblob.NewClientWithNoCredential(cfg.AzureAccountURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "new azure blob client")
	}
	return &azureBackend{container: cfg.AzureContainer, client: client}, nil
}

func (b *azureBackend) Name() string { return "azure" }

func (b *azureBackend) Put(ctx context.Context, key string, data []byte) error {
	_, err := b.client.UploadBuffer(ctx, b.container, key, data, nil)
	return errors.Wrap(err, "azure blob upload")
}
