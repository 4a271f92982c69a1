package billing

import "fmt"

// Resource represents a quota-metered resource
type Resource string

const (
	// ResourceConversations tracks the number of conversations started in a billing period
	ResourceConversations Resource = "conversations"

	// ResourceFileUploads tracks the number of files uploaded in a billing period
	ResourceFileUploads Resource = "file_uploads"

	// ResourceKnowledgeBaseBytes tracks knowledge base storage consumption in bytes
	ResourceKnowledgeBaseBytes Resource = "knowledge_base_bytes"
)

// String returns the string representation of Resource
func (r Resource) String() string {
	return string(r)
}

// IsValid returns true if the resource is valid
func (r Resource) IsValid() bool {
	switch r {
	case ResourceConversations, ResourceFileUploads, ResourceKnowledgeBaseBytes:
		return true
	}
	return false
}

// IsDecrementable returns true if the resource counter may go down.
// Knowledge base storage shrinks when documents are deleted; every other
// counter is increment-only within a period.
func (r Resource) IsDecrementable() bool {
	return r == ResourceKnowledgeBaseBytes
}

// Unit returns the measurement unit for this resource
func (r Resource) Unit() ResourceUnit {
	if r == ResourceKnowledgeBaseBytes {
		return ResourceUnitBytes
	}
	return ResourceUnitCount
}

// DisplayName returns a human-readable name for the resource
func (r Resource) DisplayName() string {
	switch r {
	case ResourceConversations:
		return "Conversations"
	case ResourceFileUploads:
		return "File Uploads"
	case ResourceKnowledgeBaseBytes:
		return "Knowledge Base Storage"
	default:
		return string(r)
	}
}

// AllResources returns all valid resources
func AllResources() []Resource {
	return []Resource{
		ResourceConversations,
		ResourceFileUploads,
		ResourceKnowledgeBaseBytes,
	}
}

// ParseResource parses a string into a Resource
func ParseResource(s string) (Resource, error) {
	r := Resource(s)
	if !r.IsValid() {
		return "", fmt.Errorf("invalid resource: %s", s)
	}
	return r, nil
}

// ResourceUnit represents the unit of measurement for a resource
type ResourceUnit string

const (
	// ResourceUnitCount represents a simple count
	ResourceUnitCount ResourceUnit = "count"

	// ResourceUnitBytes represents storage in bytes
	ResourceUnitBytes ResourceUnit = "bytes"
)

// String returns the string representation of ResourceUnit
func (u ResourceUnit) String() string {
	return string(u)
}

// FormatValue formats a value with the appropriate unit suffix
func (u ResourceUnit) FormatValue(value int64) string {
	if u == ResourceUnitBytes {
		return formatBytes(value)
	}
	return fmt.Sprintf("%d", value)
}

// formatBytes formats bytes into human-readable form
func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.2f TB", float64(bytes)/TB)
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
