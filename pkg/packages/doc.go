// Package packages stores generic package files behind the access gate.
//
// An Index keeps package metadata (project, name, version, files with their
// SHA-256 digests) in memory and delegates file contents to a BlobStore:
// MemoryBlobs for tests and single-node use, FilesystemBlobs for a local
// directory, or S3Blobs for an S3 compatible bucket. Payloads are opaque;
// no package-format parsing happens here.
package packages
