package signature

import "Go2NetSentinel/internal/model"

const (
	synFloodRate = 100.0
	scanRate     = 50.0
	scanSize     = 100
)

// CommonServicePorts are destination ports whose first SYN is worth noting.
var CommonServicePorts = map[uint16]struct{}{
	21: {}, 22: {}, 23: {}, 25: {}, 53: {}, 80: {}, 110: {}, 143: {},
	443: {}, 445: {}, 3306: {}, 3389: {}, 5432: {}, 8080: {},
}

// BackdoorPorts are destination ports commonly used by trojans and botnets.
var BackdoorPorts = map[uint16]struct{}{
	4444: {}, 31337: {}, 6667: {}, 12345: {}, 1337: {}, 5554: {}, 9996: {},
}

// DefaultRules returns the built-in signature set.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "syn_flood",
			Description: "High rate of SYN packets without ACK",
			Severity:    model.SeverityHigh,
			When: func(fv model.FeatureVector) bool {
				return fv.Flags.Has(model.FlagSYN) && !fv.Flags.Has(model.FlagACK) && fv.PacketRate > synFloodRate
			},
		},
		{
			ID:          "port_scan",
			Description: "Burst of small packets typical of port scanning",
			Severity:    model.SeverityMedium,
			When: func(fv model.FeatureVector) bool {
				return fv.PacketSize < scanSize && fv.PacketRate > scanRate
			},
		},
		{
			ID:          "lone_syn_common_port",
			Description: "First SYN of a flow to a common service port",
			Severity:    model.SeverityLow,
			When: func(fv model.FeatureVector) bool {
				_, common := CommonServicePorts[fv.Key.DstPort]
				return fv.Flags.Only(model.FlagSYN) && fv.PacketCount == 1 && common
			},
		},
		{
			ID:          "null_scan",
			Description: "TCP packet with no flags set",
			Severity:    model.SeverityHigh,
			When: func(fv model.FeatureVector) bool {
				return fv.Flags == 0
			},
		},
		{
			ID:          "xmas_scan",
			Description: "TCP packet with FIN, PSH and URG set",
			Severity:    model.SeverityHigh,
			When: func(fv model.FeatureVector) bool {
				return fv.Flags.Has(model.FlagFIN | model.FlagPSH | model.FlagURG)
			},
		},
		{
			ID:          "syn_fin",
			Description: "Invalid SYN+FIN combination",
			Severity:    model.SeverityHigh,
			When: func(fv model.FeatureVector) bool {
				return fv.Flags.Has(model.FlagSYN | model.FlagFIN)
			},
		},
		{
			ID:          "suspicious_port",
			Description: "Traffic to a known backdoor port",
			Severity:    model.SeverityMedium,
			When: func(fv model.FeatureVector) bool {
				_, bad := BackdoorPorts[fv.Key.DstPort]
				return bad
			},
		},
	}
}
