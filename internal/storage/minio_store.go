// internal/storage/minio_store.go
package storage

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	PublicBaseURL string
}

// Enabled: sem credenciais o espelho no MinIO fica desligado.
func (c MinioConfig) Enabled() bool {
	return c.AccessKey != "" && c.SecretKey != ""
}

// MinioStore espelha o último snapshot de cada câmera em <camera>/latest.jpg.
type MinioStore struct {
	client  *minio.Client
	bucket  string
	baseURL *url.URL
	useSSL  bool
}

func newMinioClient(cfg MinioConfig) (*MinioStore, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("erro criando cliente MinIO: %w", err)
	}

	var u *url.URL
	if cfg.PublicBaseURL != "" {
		u, err = url.Parse(cfg.PublicBaseURL)
		if err != nil {
			return nil, fmt.Errorf("MINIO_PUBLIC_BASE_URL inválida: %w", err)
		}
	}
	return &MinioStore{client: cli, bucket: cfg.Bucket, baseURL: u, useSSL: cfg.UseSSL}, nil
}

// NewMinioStore conecta e cria o bucket se ainda não existir.
func NewMinioStore(ctx context.Context, cfg MinioConfig) (*MinioStore, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("MINIO_ACCESS_KEY / MINIO_SECRET_KEY não configurados")
	}
	s, err := newMinioClient(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
		exists, errBucketExists := s.client.BucketExists(ctx, cfg.Bucket)
		if errBucketExists != nil || !exists {
			return nil, fmt.Errorf("erro criando/verificando bucket %s: %w", cfg.Bucket, err)
		}
	}

	log.Printf("[minio] conectado ao endpoint %s, bucket=%s", cfg.Endpoint, cfg.Bucket)
	return s, nil
}

// ObjectKey é a chave fixa do snapshot mais recente da câmera.
func ObjectKey(camera string) string {
	return path.Join(camera, "latest.jpg")
}

func (s *MinioStore) Mirror(ctx context.Context, camera string, data []byte, contentType string) error {
	_, err := s.SaveSnapshot(ctx, ObjectKey(camera), data, contentType)
	return err
}

func (s *MinioStore) SaveSnapshot(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "image/jpeg"
	}

	_, err := s.client.PutObject(
		ctx,
		s.bucket,
		key,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{
			ContentType: contentType,
		},
	)
	if err != nil {
		return "", fmt.Errorf("erro ao enviar objeto pro MinIO: %w", err)
	}
	return s.ObjectURL(key), nil
}

// ObjectURL prefere a URL pública configurada; senão usa o endpoint S3.
func (s *MinioStore) ObjectURL(key string) string {
	if s.baseURL != nil {
		u := *s.baseURL
		if u.Path == "" || u.Path == "/" {
			u.Path = "/" + key
		} else {
			u.Path = fmt.Sprintf("%s/%s", strings.TrimSuffix(u.Path, "/"), key)
		}
		return u.String()
	}

	scheme := "http"
	if s.useSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.client.EndpointURL().Host, s.bucket, key)
}
