package storage

import (
	"bytes"
	"fmt"
	"io"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
)

// OSSStorage Alibaba Cloud OSS storage
type OSSStorage struct {
	bucket *oss.Bucket
}

// NewOSSStorage create OSS storage instance
func NewOSSStorage(endpoint, accessKey, secretKey, bucketName string) (*OSSStorage, error) {
	if endpoint == "" || accessKey == "" || secretKey == "" || bucketName == "" {
		return nil, ErrInvalid
	}

	client, err := oss.New(endpoint, accessKey, secretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create oss client: %w", err)
	}

	bucket, err := client.Bucket(bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}

	return &OSSStorage{
		bucket: bucket,
	}, nil
}

// Save save file to OSS
func (s *OSSStorage) Save(key string, data []byte) error {
	if err := s.bucket.PutObject(key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to upload to oss: %w", err)
	}
	return nil
}

// SaveStream save file to OSS from reader
func (s *OSSStorage) SaveStream(key string, r io.Reader) error {
	if err := s.bucket.PutObject(key, r); err != nil {
		return fmt.Errorf("failed to upload to oss: %w", err)
	}
	return nil
}

// Get get file from OSS
func (s *OSSStorage) Get(key string) ([]byte, error) {
	body, err := s.Open(key)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read oss object: %w", err)
	}
	return data, nil
}

// Open open OSS object for streaming reads
func (s *OSSStorage) Open(key string) (io.ReadCloser, error) {
	body, err := s.bucket.GetObject(key)
	if err != nil {
		if ossErr, ok := err.(oss.ServiceError); ok && ossErr.StatusCode == 404 {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get from oss: %w", err)
	}
	return body, nil
}

// Delete delete file from OSS
func (s *OSSStorage) Delete(key string) error {
	if err := s.bucket.DeleteObject(key); err != nil {
		return fmt.Errorf("failed to delete from oss: %w", err)
	}
	return nil
}

// DeletePrefix delete every object under prefix
func (s *OSSStorage) DeletePrefix(prefix string) error {
	marker := ""
	for {
		result, err := s.bucket.ListObjects(oss.Prefix(prefix), oss.Marker(marker), oss.MaxKeys(1000))
		if err != nil {
			return fmt.Errorf("failed to list oss objects: %w", err)
		}

		keys := make([]string, 0, len(result.Objects))
		for _, obj := range result.Objects {
			keys = append(keys, obj.Key)
		}
		if len(keys) > 0 {
			if _, err := s.bucket.DeleteObjects(keys, oss.DeleteObjectsQuiet(true)); err != nil {
				return fmt.Errorf("failed to delete oss objects: %w", err)
			}
		}

		if !result.IsTruncated {
			return nil
		}
		marker = result.NextMarker
	}
}

// Exists check if file exists in OSS
func (s *OSSStorage) Exists(key string) bool {
	exists, err := s.bucket.IsObjectExist(key)
	if err != nil {
		return false
	}
	return exists
}
