package crosscheck

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ppiankov/credible/internal/model"
)

// SectorRouter maps a sector to the regulators that oversee it
type SectorRouter struct {
	regulators map[string][]string
}

// NewSectorRouter creates a router from sector → regulator domains
func NewSectorRouter(m map[string][]string) *SectorRouter {
	r := &SectorRouter{regulators: make(map[string][]string, len(m))}
	for sector, domains := range m {
		r.regulators[strings.ToLower(strings.TrimSpace(sector))] = lowerAll(domains)
	}
	return r
}

// Route returns the regulator domains for sector
func (r *SectorRouter) Route(sector string) ([]string, error) {
	s := strings.ToLower(strings.TrimSpace(sector))
	domains, ok := r.regulators[s]
	if !ok {
		return nil, fmt.Errorf("no regulator mapping for sector %q", s)
	}
	return domains, nil
}

// isSectorRegulator reports whether host belongs to any sector's regulator
func (r *SectorRouter) isSectorRegulator(host string) bool {
	for _, domains := range r.regulators {
		for _, d := range domains {
			if matchesDomain(host, d) {
				return true
			}
		}
	}
	return false
}

// TierClassifier assigns a source tier to reference records by the domain
// they were published on
type TierClassifier struct {
	domainMap map[string]model.SourceTier
	regulator []string
	exchange  []string
	sectors   *SectorRouter
}

// NewTierClassifier builds a classifier from the cross-check configuration
func NewTierClassifier(cfg model.CrossCheckConfig) *TierClassifier {
	c := &TierClassifier{
		domainMap: make(map[string]model.SourceTier, len(cfg.DomainMap)),
		regulator: lowerAll(cfg.RegulatorDomains),
		exchange:  lowerAll(cfg.ExchangeDomains),
		sectors:   NewSectorRouter(cfg.SectorRegulators),
	}
	for host, tier := range cfg.DomainMap {
		c.domainMap[strings.ToLower(host)] = model.ParseSourceTier(tier)
	}
	return c
}

// Classify returns the tier of a reference URL, or TierUnknown
func (c *TierClassifier) Classify(rawURL string) model.SourceTier {
	return c.ClassifyFor(rawURL, "")
}

// ClassifyFor returns the tier of a reference URL about an entity in sector.
// Sector regulators publish primary filings only for entities in their own
// sector; cross-sector regulators always do.
func (c *TierClassifier) ClassifyFor(rawURL, sector string) model.SourceTier {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return model.TierUnknown
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return model.TierUnknown
	}

	if tier, ok := c.domainMap[host]; ok {
		return tier
	}
	for _, d := range c.regulator {
		if matchesDomain(host, d) {
			return model.TierRegulator
		}
	}
	if c.sectors.isSectorRegulator(host) {
		domains, err := c.sectors.Route(sector)
		if err != nil {
			return model.TierUnknown
		}
		for _, d := range domains {
			if matchesDomain(host, d) {
				return model.TierRegulator
			}
		}
		return model.TierUnknown
	}
	for _, d := range c.exchange {
		if matchesDomain(host, d) {
			return model.TierExchange
		}
	}

	// Government hosts publish statutory filings
	for _, suffix := range []string{".gov", ".gov.in", ".gov.uk", ".nic.in"} {
		if strings.HasSuffix(host, suffix) {
			return model.TierRegulator
		}
	}
	return model.TierUnknown
}

func matchesDomain(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
