package ceremony

// Role is the part a participant plays for a given request.
type Role int

const (
	// Contributor transforms verified chunks.
	Contributor Role = iota
	// Verifier checks contributions and produces the next challenge.
	Verifier
)

func (r Role) String() string {
	switch r {
	case Contributor:
		return "contributor"
	case Verifier:
		return "verifier"
	default:
		return "unknown"
	}
}

// RoleOf resolves the role of a participant. Membership of the verifier set
// wins; everybody else acts as a contributor.
func (c *Ceremony) RoleOf(participantID string) Role {
	if contains(c.VerifierIDs, participantID) {
		return Verifier
	}
	return Contributor
}

// IsParticipant reports whether participantID is in either role set.
func (c *Ceremony) IsParticipant(participantID string) bool {
	return contains(c.ContributorIDs, participantID) || contains(c.VerifierIDs, participantID)
}

// InGroup reports whether participantID belongs to the named set
// ("contributorIds" or "verifierIds").
func (c *Ceremony) InGroup(group, participantID string) bool {
	switch group {
	case GroupContributors:
		return contains(c.ContributorIDs, participantID)
	case GroupVerifiers:
		return contains(c.VerifierIDs, participantID)
	default:
		return false
	}
}

// Names of the role sets, as they appear in the document.
const (
	GroupContributors = "contributorIds"
	GroupVerifiers    = "verifierIds"
)

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
