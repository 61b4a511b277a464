package server

import "github.com/aeolun/squadrelay/pkg/protocol"

const (
	localRegion   = "local"
	localLocation = "💻 Local (Dev)"
)

// regionLabels maps hosting region codes to display names
var regionLabels = map[string]string{
	"oregon":    "🇺🇸 US West (Oregon)",
	"ohio":      "🇺🇸 US East (Ohio)",
	"frankfurt": "🇩🇪 EU Central (Germany)",
	"singapore": "🇸🇬 Asia (Singapore)",
	"virginia":  "🇺🇸 US East (Virginia)",
}

// LocationLabel returns the human-readable location for a region code
func LocationLabel(region string) string {
	if region == "" {
		return localLocation
	}
	if label, ok := regionLabels[region]; ok {
		return label
	}
	return "📍 " + region
}

// ServerInfo returns the identity sent to every new connection
func (c ServerConfig) ServerInfo() protocol.ServerInfoMessage {
	region := c.Region
	if region == "" {
		region = localRegion
	}
	return protocol.ServerInfoMessage{
		Name:     c.ServerName,
		Location: LocationLabel(c.Region),
		Region:   region,
	}
}
