// Package version provides version information for the cardprice service.
package version

// Version is the current version of the cardprice service.
const Version = "0.4.0"

// AgentString returns the User-Agent sent to pricing providers.
// Format: cardprice/{version}
func AgentString() string {
	return "cardprice/" + Version
}
