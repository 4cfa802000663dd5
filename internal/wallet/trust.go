package wallet

// trustedIssuerDomains is an advisory allowlist standing in for a trust
// registry lookup. Membership only flips the issuerTrusted flag on a
// verification result; it never gates access.
var trustedIssuerDomains = map[string]struct{}{
	"mit.edu":          {},
	"ox.ac.uk":         {},
	"iitb.ac.in":       {},
	"du.ac.in":         {},
	"stanford.edu":     {},
	"cam.ac.uk":        {},
	"coursera.org":     {},
	"credly.com":       {},
	"digilocker.gov.in": {},
}

// IssuerTrusted reports whether the issuer domain is on the advisory
// trust list.
func IssuerTrusted(domain string) bool {
	_, ok := trustedIssuerDomains[domain]
	return ok
}

// highViewsThreshold flags shares whose consumed views look anomalous for a
// link meant for one or two verifiers.
const highViewsThreshold = 30

// fraudFlags returns advisory anomaly markers included in a successful
// verification result.
func fraudFlags(share Share) []string {
	var flags []string
	if share.Views > highViewsThreshold {
		flags = append(flags, "high_views")
	}
	return flags
}
