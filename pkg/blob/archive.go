package blob

import "context"

// Archive stores deduplicated content addressed by hash.
//
// Store and LinkInto work with local file paths because upload merging and
// transcode output delivery both produce files on local disk; the archive
// decides whether "storing" means an atomic rename (filesystem), an upload
// (S3) or a copy into memory (tests).
type Archive interface {
	// Store moves the file at src into the archive under hash and returns
	// the archive key. Finding the hash already archived is success: the
	// content is identical by definition, and src is discarded.
	Store(ctx context.Context, hash string, src string) (string, error)

	// Exists reports whether the hash is archived.
	Exists(ctx context.Context, hash string) (bool, error)

	// LinkInto makes the archived content readable at the local path dst,
	// creating parent directories as needed. The filesystem archive
	// symlinks, remote archives materialize a copy. Replaces dst when it
	// already exists.
	LinkInto(ctx context.Context, hash string, dst string) error
}
