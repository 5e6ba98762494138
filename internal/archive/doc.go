// Package archive implements the on-disk bundle used to publish a package and
// the installed package handle returned after a verified fetch.
//
// A bundle is a plain tar file named <ident>.bundle with two members:
//
//	<ident>/archive.tar.zst   # tar of the included data files, zstd compressed
//	<ident>/meta.json         # package.json fields + archive descriptor
//
// Members are exposed as independent seekable readers so the publisher can hash
// a member, rewind it and upload it without buffering it in memory. The format
// is intentionally minimal; only the member layout matters to the index.
package archive
