// ABOUTME: Version constants for the timing client and server binaries
// ABOUTME: No other package in this module reads them; mDNS TXT records and log lines do not include them
package version

const (
	// Version is the module release version.
	Version = "0.1.0"

	// Product is the product name of this software.
	Product = "timingsrc"

	// Manufacturer is the name of the project maintainer.
	Manufacturer = "timingsrc"
)
