package models

// All lists every table the service owns, in migration order.
func All() []interface{} {
	return []interface{}{
		&Animal{},
		&RegionManifest{},
		&UserChallenge{},
		&ChallengeSection{},
		&ChallengeTask{},
		&ProcessedSighting{},
		&UserProgress{},
		&BadgeType{},
		&UserBadge{},
	}
}
