package claim

// ToConnectorAttributes partitions claims per identity store connector using
// the domain's mapping table. A claim whose (dialectURI, claimURI) has no
// mapping is dropped: an unmapped claim has nowhere to go on the write path.
func ToConnectorAttributes(claims []Claim, mappings []MetaClaimMapping) map[string][]Attribute {
	attrsByConnector := make(map[string][]Attribute)
	for _, c := range claims {
		for _, m := range mappings {
			if m.MetaClaim.ClaimURI != c.ClaimURI || m.MetaClaim.DialectURI != c.DialectURI {
				continue
			}
			attrsByConnector[m.IdentityStoreConnectorID] = append(
				attrsByConnector[m.IdentityStoreConnectorID],
				Attribute{Name: m.AttributeName, Value: c.Value})
			break
		}
	}
	return attrsByConnector
}

// ToClaims is the inverse of ToConnectorAttributes: it rebuilds claims from
// per-connector attribute lists. Attributes with no mapping are skipped and
// never regenerated.
func ToClaims(mappings []MetaClaimMapping, attrsByConnector map[string][]Attribute) []Claim {
	var claims []Claim
	for _, attrs := range attrsByConnector {
		if len(attrs) == 0 {
			continue
		}
		for _, attr := range attrs {
			for _, m := range mappings {
				if m.AttributeName != attr.Name {
					continue
				}
				claims = append(claims, Claim{
					DialectURI: m.MetaClaim.DialectURI,
					ClaimURI:   m.MetaClaim.ClaimURI,
					Value:      attr.Value,
				})
				break
			}
		}
	}
	return claims
}

// ConnectorAttributeNames maps each connector id to the attribute names that
// back the requested meta claims. Meta claims with an empty claim URI or no
// mapping are skipped. Used to pre-filter attribute fetches.
func ConnectorAttributeNames(mappings []MetaClaimMapping, metaClaims []MetaClaim) map[string][]string {
	namesByConnector := make(map[string][]string)
	for _, mc := range metaClaims {
		if mc.ClaimURI == "" {
			continue
		}
		for _, m := range mappings {
			if m.MetaClaim.ClaimURI != mc.ClaimURI {
				continue
			}
			namesByConnector[m.IdentityStoreConnectorID] = append(
				namesByConnector[m.IdentityStoreConnectorID], m.AttributeName)
			break
		}
	}
	return namesByConnector
}
