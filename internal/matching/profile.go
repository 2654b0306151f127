package matching

import "time"

// Profile is a registered user. Attributes hold the answers collected during
// registration, keyed by attribute key.
type Profile struct {
	ID         int64
	Attributes map[string]string

	// Partner is the current partner id, 0 when unpaired.
	Partner int64
	// LastPartner is the most recent partner, kept after the conversation ends.
	LastPartner int64

	// JoinedAt is when the user last entered the waiting pool.
	JoinedAt time.Time

	// pending is set while a pairing is being announced.
	pending bool
	// rateable is the partner this user may still leave feedback about.
	rateable int64
}

// Attr returns an attribute value, or "" when unset.
func (p Profile) Attr(key string) string {
	return p.Attributes[key]
}

// Paired reports whether the profile has a committed partner.
func (p Profile) Paired() bool {
	return p.Partner != 0 && !p.pending
}

func (p *Profile) clone() Profile {
	c := *p
	c.Attributes = make(map[string]string, len(p.Attributes))
	for k, v := range p.Attributes {
		c.Attributes[k] = v
	}
	return c
}
