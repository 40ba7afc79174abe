package kvstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCS はGoogle Cloud Storageのオブジェクトとして値を保存するStore。
// キーごとに prefix + key + ".json" のオブジェクトを1つ使う。
type GCS struct {
	// client はCloud Storageクライアント。
	client *storage.Client
	// bucket は保存先のバケット名。
	bucket string
	// prefix はオブジェクト名の接頭辞。
	prefix string
}

// OpenGCS はデフォルト認証情報でCloud Storageクライアントを生成する。
func OpenGCS(ctx context.Context, bucket, prefix string) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: Cloud Storageクライアントの生成に失敗: %w", ErrUnavailable, err)
	}
	return NewGCS(client, bucket, prefix), nil
}

// NewGCS は既存のクライアントからGCSを生成する。
func NewGCS(client *storage.Client, bucket, prefix string) *GCS {
	return &GCS{client: client, bucket: bucket, prefix: prefix}
}

func (g *GCS) object(key string) *storage.ObjectHandle {
	return g.client.Bucket(g.bucket).Object(g.prefix + key + ".json")
}

// Get はオブジェクトの内容を返す。
func (g *GCS) Get(ctx context.Context, key string) ([]byte, error) {
	reader, err := g.object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: オブジェクトのオープンに失敗: %w", ErrUnavailable, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: オブジェクトの読み込みに失敗: %w", ErrUnavailable, err)
	}
	return data, nil
}

// Set はオブジェクトを書き込む。Closeが成功した時点で書き込みが確定する。
func (g *GCS) Set(ctx context.Context, key string, value []byte) error {
	writer := g.object(key).NewWriter(ctx)
	writer.ContentType = "application/json"

	if _, err := writer.Write(value); err != nil {
		writer.Close()
		return fmt.Errorf("%w: オブジェクトの書き込みに失敗: %w", ErrUnavailable, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("%w: オブジェクトの確定に失敗: %w", ErrUnavailable, err)
	}
	return nil
}

// Delete はオブジェクトを削除する。
func (g *GCS) Delete(ctx context.Context, key string) error {
	if err := g.object(key).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%w: オブジェクトの削除に失敗: %w", ErrUnavailable, err)
	}
	return nil
}

// Close はCloud Storageクライアントを閉じる。
func (g *GCS) Close() error {
	return g.client.Close()
}
