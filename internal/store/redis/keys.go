package redis

const (
	// KeyPrefixBookmark is the prefix for bookmark record keys
	KeyPrefixBookmark = "marqd:bookmark:"
	// KeyPrefixOwner is the prefix for per-owner keys
	KeyPrefixOwner = "marqd:user:"
	// ChannelPrefixFeed is the prefix for per-owner change feed channels
	ChannelPrefixFeed = "marqd:feed:"
)

// BookmarkKey returns the Redis key for a bookmark record
func BookmarkKey(id string) string {
	return KeyPrefixBookmark + id
}

// OwnerBookmarksKey returns the key of the per-owner sorted set.
// Members are bookmark ids scored by creation time, so a reverse
// range yields the collection newest first.
func OwnerBookmarksKey(owner string) string {
	return KeyPrefixOwner + owner + ":bookmarks"
}

// FeedChannel returns the pub/sub channel carrying one owner's change events
func FeedChannel(owner string) string {
	return ChannelPrefixFeed + owner
}
