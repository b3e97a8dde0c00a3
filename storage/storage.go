package storage

import (
	"errors"
	"io"

	"bundle-packager/conf"
)

// Storage unified blob storage interface
type Storage interface {
	Save(key string, data []byte) error
	SaveStream(key string, r io.Reader) error // r is consumed until EOF
	Get(key string) ([]byte, error)
	Open(key string) (io.ReadCloser, error)
	Delete(key string) error
	DeletePrefix(prefix string) error // removes every key under prefix
	Exists(key string) bool
}

var (
	ErrNotFound = errors.New("file not found")
	ErrInvalid  = errors.New("invalid storage configuration")
)

// NewStorage create storage instance by configuration
func NewStorage(cfg conf.StorageConfig) (Storage, error) {
	switch cfg.Type {
	case "local":
		return NewLocalStorage(cfg.Local.BasePath)
	case "oss":
		return NewOSSStorage(cfg.OSS.Endpoint, cfg.OSS.AccessKey, cfg.OSS.SecretKey, cfg.OSS.Bucket)
	case "s3":
		return NewS3Storage(cfg.S3.Region, cfg.S3.Endpoint, cfg.S3.AccessKey, cfg.S3.SecretKey, cfg.S3.Bucket)
	case "minio":
		return NewMinIOStorage(cfg.MinIO.Endpoint, cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, cfg.MinIO.Bucket)
	default:
		// Default to local storage
		return NewLocalStorage(cfg.Local.BasePath)
	}
}
