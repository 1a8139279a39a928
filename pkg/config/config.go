// Package config holds the small option structs shared by the pack,
// unpack, and clone pipelines (spec §A.3). These are plain structs with
// Default constructors, matching the teacher's RepackOptions/UnpackOptions
// pattern (oci/layer/types.go) rather than a generic flag/env framework.
package config

// DefaultChunkSize is the fixed pack chunk size (spec §4.3, §6): 512 KiB.
const DefaultChunkSize = 512 * 1024

// DefaultWorkers is the default size of the pack upload, unpack download,
// and clone download/upload worker pools (spec §5).
const DefaultWorkers = 10

// PackOptions configures the pack pipeline (spec §4.5).
type PackOptions struct {
	// ChunkSize is the size, in bytes, of each chunk read from a source
	// file before it is handed to the codec. The final chunk of a file may
	// be shorter; there is no padding.
	ChunkSize int

	// Workers is the number of concurrent upload workers.
	Workers int

	// StripPassword, if set, removes embedded credentials from each
	// backend URL before it is persisted into the catalog's route table.
	StripPassword bool

	// Tags are extra key/value pairs written to the catalog's tag table
	// alongside whatever reserved tags the caller sets explicitly.
	Tags map[string]string
}

// DefaultPackOptions returns a PackOptions with the spec's default knobs.
func DefaultPackOptions() PackOptions {
	return PackOptions{
		ChunkSize: DefaultChunkSize,
		Workers:   DefaultWorkers,
	}
}

func (o PackOptions) fill() PackOptions {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	return o
}

// Fill returns a copy of o with zero-valued fields replaced by their
// defaults.
func (o PackOptions) Fill() PackOptions { return o.fill() }

// UnpackOptions configures the unpack pipeline (spec §4.6).
type UnpackOptions struct {
	// Preserve, if set, applies uid/gid ownership from the catalog to
	// extracted files and symlinks via a no-follow chown.
	Preserve bool

	// Workers is the number of concurrent download workers used by the
	// parallel unpack path.
	Workers int
}

// DefaultUnpackOptions returns an UnpackOptions with the spec's default
// knobs.
func DefaultUnpackOptions() UnpackOptions {
	return UnpackOptions{Workers: DefaultWorkers}
}

func (o UnpackOptions) fill() UnpackOptions {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	return o
}

// Fill returns a copy of o with zero-valued fields replaced by their
// defaults.
func (o UnpackOptions) Fill() UnpackOptions { return o.fill() }

// CloneOptions configures the clone pipeline (spec §4.8).
type CloneOptions struct {
	// DownloadWorkers is the size of the download worker pool.
	DownloadWorkers int
	// UploadWorkers is the size of the upload worker pool.
	UploadWorkers int
}

// DefaultCloneOptions returns a CloneOptions with the spec's default knobs.
func DefaultCloneOptions() CloneOptions {
	return CloneOptions{DownloadWorkers: DefaultWorkers, UploadWorkers: DefaultWorkers}
}

func (o CloneOptions) fill() CloneOptions {
	if o.DownloadWorkers <= 0 {
		o.DownloadWorkers = DefaultWorkers
	}
	if o.UploadWorkers <= 0 {
		o.UploadWorkers = DefaultWorkers
	}
	return o
}

// Fill returns a copy of o with zero-valued fields replaced by their
// defaults.
func (o CloneOptions) Fill() CloneOptions { return o.fill() }

// MergeCollisionPolicy selects how Merge resolves name collisions between
// sources grafted under the same synthetic root (spec §4.8, §9 open
// question 5). The reference chooses LastWriterWins; this is a design
// choice recorded in DESIGN.md, not a forced one.
type MergeCollisionPolicy int

const (
	// LastWriterWins replays sources in the order given and lets a later
	// source's inode silently replace an earlier one at the same path.
	LastWriterWins MergeCollisionPolicy = iota
	// FirstWriterWins keeps whichever source inserted a path first.
	FirstWriterWins
	// ErrorOnCollision aborts the merge the first time two sources
	// disagree about a path.
	ErrorOnCollision
)

// MergeOptions configures the merge pipeline.
type MergeOptions struct {
	Collision MergeCollisionPolicy
}
