// Package s3 provides a blobstore.BlobStore for Amazon S3.
//
// Reads use ranged GetObject requests; Put goes through the multipart upload
// manager so large shard blobs are uploaded in parallel parts.
//
//	cfg, _ := config.LoadDefaultConfig(ctx)
//	store := s3.NewStore(awss3.NewFromConfig(cfg), "bucket", "collection-a/")
package s3
