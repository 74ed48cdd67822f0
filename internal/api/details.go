package api

import (
	"fmt"

	"github.com/asnwatch/trust-engine/internal/registry"
)

// Detail is one human-readable finding on a score card.
type Detail struct {
	Code        string `json:"code"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Action      string `json:"action"`
}

// synthesizeDetails maps the signal snapshot to the fixed finding list.
// Thresholds here mirror the scoring rules where both exist, but the list
// is purely presentational; it never feeds back into the score.
func synthesizeDetails(sig registry.Signals) []Detail {
	var out []Detail
	add := func(code, severity, description, action string) {
		out = append(out, Detail{Code: code, Severity: severity, Description: description, Action: action})
	}

	if sig.RPKIInvalidPercent > 1.0 {
		add("RPKI_INVALID", "HIGH",
			fmt.Sprintf("%.1f%% of announced routes fail RPKI origin validation", sig.RPKIInvalidPercent),
			"Fix or revoke ROAs for the invalid announcements")
	}
	if sig.RPKIUnknownPercent > 50 {
		add("RPKI_UNKNOWN", "MEDIUM",
			fmt.Sprintf("%.1f%% of announced routes have no RPKI coverage", sig.RPKIUnknownPercent),
			"Publish ROAs for the uncovered address space")
	}
	if sig.HasRouteLeaks {
		add("ROUTE_LEAK", "HIGH",
			"Route leaks observed from this network",
			"Audit export filters towards peers and upstreams")
	}
	if sig.HasBogonAds {
		add("BOGON_AD", "MEDIUM",
			"Bogon or reserved address space announced",
			"Remove announcements for unallocated space")
	}
	if sig.IsStubButTransit {
		add("STUB_TRANSIT", "MEDIUM",
			"Stub network observed providing transit",
			"Verify the network is authorized to transit its neighbors")
	}
	if sig.SpamhausListed {
		add("THREAT_SPAMHAUS", "CRITICAL",
			"Network is listed on the Spamhaus DROP list",
			"Request delisting after remediating the abuse")
	}
	if sig.SpamEmissionRate > 0.1 {
		add("THREAT_SPAM", "HIGH",
			fmt.Sprintf("Elevated spam emission rate (%.2f)", sig.SpamEmissionRate),
			"Identify and suspend the spamming customers")
	}
	if sig.BotnetC2Count > 0 {
		add("THREAT_BOTNET", "CRITICAL",
			fmt.Sprintf("%d botnet command-and-control hosts detected", sig.BotnetC2Count),
			"Take down the C2 infrastructure and notify affected parties")
	}
	if sig.PhishingHostingCount > 0 {
		add("THREAT_PHISHING", "HIGH",
			fmt.Sprintf("%d phishing sites hosted", sig.PhishingHostingCount),
			"Suspend the hosting accounts serving phishing content")
	}
	if sig.MalwareDistributionCount > 0 {
		add("THREAT_MALWARE", "CRITICAL",
			fmt.Sprintf("%d malware distribution points detected", sig.MalwareDistributionCount),
			"Remove the malware payloads and audit the hosts")
	}
	if sig.IsWhoisPrivate {
		add("META_PRIVATE", "LOW",
			"WHOIS contact information is private or incomplete",
			"Publish reachable abuse and NOC contacts")
	}
	if !sig.HasPeeringDBProfile {
		add("META_NO_PDB", "LOW",
			"No PeeringDB profile found",
			"Register the network in PeeringDB")
	}
	if sig.UpstreamTier1Count == 0 {
		add("META_NO_TIER1", "MEDIUM",
			"No Tier-1 upstream observed",
			"Consider adding a transit-independent upstream")
	}

	return out
}
