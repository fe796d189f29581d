// Package packfile defines the pack descriptor and source-class taxonomy
// the GC engine reasons about when classifying and rewriting packs.
package packfile

import (
	"fmt"
	"time"
)

// SourceClass records why a pack exists, which drives how the classifier
// and the garbage policy treat it.
type SourceClass string

const (
	SourceInsert             SourceClass = "INSERT"
	SourceReceive            SourceClass = "RECEIVE"
	SourceCompact            SourceClass = "COMPACT"
	SourceGC                 SourceClass = "GC"
	SourceGCRest             SourceClass = "GC_REST"
	SourceGCTxn              SourceClass = "GC_TXN"
	SourceUnreachableGarbage SourceClass = "UNREACHABLE_GARBAGE"
)

var validClasses = map[SourceClass]bool{
	SourceInsert: true, SourceReceive: true, SourceCompact: true,
	SourceGC: true, SourceGCRest: true, SourceGCTxn: true,
	SourceUnreachableGarbage: true,
}

// Valid reports whether c is a recognized source class.
func (c SourceClass) Valid() bool {
	return validClasses[c]
}

// IsGarbage reports whether packs of this class are subject to TTL
// expiry and coalescing rather than being part of the live object set.
func (c SourceClass) IsGarbage() bool {
	return c == SourceUnreachableGarbage
}

// IsGCProduct reports whether a graph packer driver run produced this
// pack, as opposed to a normal write-path insert or receive.
func (c SourceClass) IsGCProduct() bool {
	switch c {
	case SourceGC, SourceGCRest, SourceGCTxn, SourceUnreachableGarbage:
		return true
	default:
		return false
	}
}

// File extensions a pack and its companions carry on disk.
const (
	PackExt         = ".pack"
	IndexExt        = ".idx"
	ReverseIndexExt = ".rev"
)

// RequiredIndexVersion is the only pack index format version this engine
// will write or accept; packConfig.indexVersion must equal this value.
const RequiredIndexVersion = 2

// Descriptor is the catalog's record of one pack: everything the
// classifier and garbage policy need without reading the pack body.
type Descriptor struct {
	ID           string
	SourceClass  SourceClass
	IndexVersion int
	ObjectCount  int64
	PackSize     int64
	CreatedAt    time.Time
	LastModified time.Time
}

// Validate checks the descriptor's own invariants, independent of any
// catalog-wide ref partitioning.
func (d Descriptor) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("packfile: descriptor missing ID")
	}
	if !d.SourceClass.Valid() {
		return fmt.Errorf("packfile: unknown source class %q", d.SourceClass)
	}
	if d.IndexVersion != RequiredIndexVersion {
		return fmt.Errorf("packfile: index version %d, want %d", d.IndexVersion, RequiredIndexVersion)
	}
	if d.ObjectCount < 0 || d.PackSize < 0 {
		return fmt.Errorf("packfile: negative object count or size in %s", d.ID)
	}
	return nil
}

// PackFilename returns the on-disk name of the pack body.
func (d Descriptor) PackFilename() string { return d.ID + PackExt }

// IndexFilename returns the on-disk name of the forward index.
func (d Descriptor) IndexFilename() string { return d.ID + IndexExt }

// ReverseIndexFilename returns the on-disk name of the reverse index.
func (d Descriptor) ReverseIndexFilename() string { return d.ID + ReverseIndexExt }

// Companions lists the reverse index, forward index and pack body of this
// pack, in the order a deleter removes them (indexes first, pack body
// last, so a half-deleted pack never appears referenced by a dangling
// index). Writers create the pack body before the index; the optional
// ".bitmap" file the graph packer may write is not listed.
func (d Descriptor) Companions() []string {
	return []string{d.ReverseIndexFilename(), d.IndexFilename(), d.PackFilename()}
}
