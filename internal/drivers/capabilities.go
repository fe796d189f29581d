package drivers

// Capability represents what a driver can do
type Capability string

const (
	CapabilityStreaming   Capability = "streaming"
	CapabilityRangeRead   Capability = "range_read"
	CapabilityMultipart   Capability = "multipart"
	CapabilityVersioning  Capability = "versioning"
	CapabilityEncryption  Capability = "encryption"
	CapabilityReplication Capability = "replication"
	CapabilityWatch       Capability = "watch"
	CapabilityAtomic      Capability = "atomic"
)

// CapabilityChecker interface for drivers that report capabilities
type CapabilityChecker interface {
	Capabilities() []Capability
	HasCapability(cap Capability) bool
}

// Capabilities returns the capabilities of the LocalDriver. Put writes
// directly to the destination path rather than through a temp-file-plus-
// rename, so it does not claim CapabilityAtomic; cmd/packgc's buildDriver
// warns when that matters for commit/rollback crash-safety.
func (d *LocalDriver) Capabilities() []Capability {
	return []Capability{
		CapabilityStreaming, // Get/Put move data through io.Reader/io.ReadCloser
	}
}

// HasCapability checks if the driver has a specific capability
func (d *LocalDriver) HasCapability(cap Capability) bool {
	capabilities := d.Capabilities()
	for _, c := range capabilities {
		if c == cap {
			return true
		}
	}
	return false
}
