// Package minio provides a blobstore.BlobStore for MinIO and other
// S3-compatible servers, built on minio-go.
//
//	client, _ := minio.New("localhost:9000", &minio.Options{...})
//	store := vminio.NewStore(client, "shards", "collection-a/")
package minio
