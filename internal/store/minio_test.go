package store

import (
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMinioStore(t *testing.T) {
	s, err := NewMinioStore(MinioConfig{
		Endpoint:  "localhost:9000",
		Region:    "us-east-1",
		AccessKey: "minio",
		SecretKey: "minio123",
	})
	require.NoError(t, err)
	assert.NotNil(t, s)

	_, err = NewMinioStore(MinioConfig{Endpoint: "http://localhost:9000/path"})
	assert.Error(t, err)
}

func TestMapMinioError(t *testing.T) {
	err := mapMinioError(minio.ErrorResponse{Code: "NoSuchKey", Message: "The specified key does not exist."})
	assert.ErrorIs(t, err, ErrNotFound)

	other := errors.New("connection refused")
	assert.Equal(t, other, mapMinioError(other))
}
