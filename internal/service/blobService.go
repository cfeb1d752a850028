package service

import (
	"context"
	"io"

	"github.com/mievst/Cerebrum/internal/pkg/storage"

	"github.com/sirupsen/logrus"
)

type blobService struct {
	storage storage.FileStorage
}

func NewBlobService(storage storage.FileStorage) BlobService {
	return &blobService{storage: storage}
}

func (s *blobService) UploadBlob(ctx context.Context, filename string, data io.Reader) (string, error) {
	ref, err := s.storage.Save(filename, data)
	if err != nil {
		return "", err
	}

	logrus.WithFields(logrus.Fields{
		"file_name": filename,
		"file_url":  ref,
	}).Info("File uploaded")
	return ref, nil
}

// OpenBlob may race with the cleanup worker; a file removed in between
// surfaces as entity.ErrBlobNotFound.
func (s *blobService) OpenBlob(ctx context.Context, ref string) (io.ReadCloser, error) {
	return s.storage.Open(ref)
}
