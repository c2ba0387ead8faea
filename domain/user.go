package domain

// User is a read-only directory record owned by the account system.
type User struct {
	ID       string
	Username string
	Avatar   string
}

// AllowedReactions is the closed set of emoji a user may react with.
var AllowedReactions = []string{"👍", "❤️", "😂", "😮", "😢", "🙏"}

func IsAllowedReaction(emoji string) bool {
	for _, e := range AllowedReactions {
		if e == emoji {
			return true
		}
	}
	return false
}
