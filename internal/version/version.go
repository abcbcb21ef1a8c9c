// ABOUTME: Version constants for the Converse client
// ABOUTME: Single source of truth for product identification
package version

const (
	// Version is the client software version.
	Version = "0.1.0"

	// Product is the product name reported to servers.
	Product = "Converse Client"

	// Manufacturer identifies the vendor.
	Manufacturer = "Converse"
)
