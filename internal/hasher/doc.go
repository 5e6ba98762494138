// Package hasher computes content digests over arbitrary byte sources in
// fixed-size chunks so memory usage stays bounded by the chunk size no matter
// how large the archive is. The digest of a chunked pass is identical to the
// digest of the whole buffer; callers pick the algorithm by name so the same
// value can be compared with what the object store reports (md5 for S3 ETags).
package hasher
