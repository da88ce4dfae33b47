package matchmaking

import "skillswap-backend/internal/pool"

// Policy tunes candidate eligibility beyond mutual availability. Skill
// affinity is a filter, not a ranking; tie-breaking stays oldest-first.
type Policy struct {
	// RequireSkillOverlap, when set, rejects open pairings where neither
	// side teaches something the other wants to learn. Pairs that targeted
	// each other explicitly are never filtered. Users with empty skill sets
	// accept any pairing.
	RequireSkillOverlap bool
}

func DefaultPolicy() Policy {
	return Policy{RequireSkillOverlap: true}
}

// Compatible reports whether x and y may be paired.
func (p Policy) Compatible(x, y pool.Entry) bool {
	if x.RequiredPartnerID == y.UserID || y.RequiredPartnerID == x.UserID {
		return true
	}
	if !p.RequireSkillOverlap {
		return true
	}
	if !hasSkills(x) || !hasSkills(y) {
		return true
	}
	return teachesWanted(x, y) || teachesWanted(y, x)
}

func hasSkills(e pool.Entry) bool {
	return len(e.SkillsTeach) > 0 && len(e.SkillsLearn) > 0
}

// teachesWanted reports whether teacher offers a skill learner wants.
func teachesWanted(teacher, learner pool.Entry) bool {
	for _, t := range teacher.SkillsTeach {
		for _, l := range learner.SkillsLearn {
			if t == l {
				return true
			}
		}
	}
	return false
}
