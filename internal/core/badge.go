package core

// Badge levels are earned per session from a user's comment count.
// Thresholds: 0, 1, 2, 3, 4, 5+ comments map to levels 1..6.
const MaxBadgeLevel = 6

var badgeNames = [MaxBadgeLevel + 1]string{
	"", // levels start at 1
	"Newcomer",
	"Chatter",
	"Active Voice",
	"Community Member",
	"Chat Champion",
	"Legend",
}

// BadgeLevel maps a session comment count to a badge level in [1,6].
func BadgeLevel(commentCount int) int {
	if commentCount < 0 {
		commentCount = 0
	}
	if commentCount >= MaxBadgeLevel-1 {
		return MaxBadgeLevel
	}
	return commentCount + 1
}

// BadgeName returns the display name for a badge level, or "" if the
// level is out of range.
func BadgeName(level int) string {
	if level < 1 || level > MaxBadgeLevel {
		return ""
	}
	return badgeNames[level]
}
