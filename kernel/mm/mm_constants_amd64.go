package mm

const (
	// PageShift is equal to log2(PageSize). Shifting a physical address
	// right by PageShift yields its frame index.
	PageShift = uintptr(12)

	// PageSize defines the system's page size in bytes.
	PageSize = uintptr(1 << PageShift)
)
