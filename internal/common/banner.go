package common

import (
	"github.com/ternarybob/banner"
)

// PrintBanner writes the startup banner to stdout. The banner sits outside
// the structured log stream on purpose: it marks process starts when reading
// mixed console output.
func PrintBanner(version string) {
	banner.PrintSimple("Mnemo", version)
}
