package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/marqd/marqd/internal/domain"
)

// Store is the persistent bookmark store. Every operation is scoped to an
// owner: a caller can only read and delete rows it owns.
//
// Insert and Delete publish a change event on the owner's feed channel, so
// every live subscription for that owner (other tabs, other devices)
// observes the mutation.
type Store struct {
	client *redis.Client
	now    func() time.Time
}

// NewStore creates a new Redis-backed bookmark store
func NewStore(client *redis.Client) *Store {
	return &Store{
		client: client,
		now:    time.Now,
	}
}

// FetchAll retrieves the full collection for owner, ordered by creation
// time descending (newest first).
func (s *Store) FetchAll(ctx context.Context, owner string) ([]domain.Bookmark, error) {
	ids, err := s.client.ZRevRange(ctx, OwnerBookmarksKey(owner), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get bookmark ids: %w", err)
	}
	if len(ids) == 0 {
		return []domain.Bookmark{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = BookmarkKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get bookmarks: %w", err)
	}

	bookmarks := make([]domain.Bookmark, 0, len(vals))
	for _, val := range vals {
		data, ok := val.(string)
		if !ok {
			// Record deleted between the range read and the batch get
			continue
		}
		var bm domain.Bookmark
		if err := json.Unmarshal([]byte(data), &bm); err != nil {
			continue
		}
		if bm.Owner != owner {
			continue
		}
		bookmarks = append(bookmarks, bm)
	}

	return bookmarks, nil
}

// Insert creates a bookmark for owner with a server-assigned id and
// timestamp, returning the created record.
func (s *Store) Insert(ctx context.Context, owner, title, url string) (domain.Bookmark, error) {
	bm := domain.Bookmark{
		ID:        ulid.Make().String(),
		Title:     strings.TrimSpace(title),
		URL:       url,
		Owner:     owner,
		CreatedAt: s.now().UTC(),
	}

	data, err := json.Marshal(bm)
	if err != nil {
		return domain.Bookmark{}, fmt.Errorf("failed to marshal bookmark: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, BookmarkKey(bm.ID), data, 0)
	pipe.ZAdd(ctx, OwnerBookmarksKey(owner), redis.Z{
		Score:  float64(bm.CreatedAt.UnixNano()),
		Member: bm.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.Bookmark{}, fmt.Errorf("failed to save bookmark: %w", err)
	}

	s.publish(ctx, owner, domain.Event{Kind: domain.EventInsert, Bookmark: &bm})

	return bm, nil
}

// Delete removes a bookmark owned by owner. Deleting a row that does not
// exist, or that belongs to someone else, returns domain.ErrNotFound.
func (s *Store) Delete(ctx context.Context, owner, id string) error {
	bm, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if bm.Owner != owner {
		// Do not reveal other owners' rows
		return domain.ErrNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, BookmarkKey(id))
	pipe.ZRem(ctx, OwnerBookmarksKey(owner), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete bookmark: %w", err)
	}

	s.publish(ctx, owner, domain.Event{Kind: domain.EventDelete, ID: id})

	return nil
}

// Ping reports store availability (used by the infra endpoint)
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) get(ctx context.Context, id string) (domain.Bookmark, error) {
	data, err := s.client.Get(ctx, BookmarkKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Bookmark{}, domain.ErrNotFound
		}
		return domain.Bookmark{}, fmt.Errorf("failed to get bookmark: %w", err)
	}

	var bm domain.Bookmark
	if err := json.Unmarshal(data, &bm); err != nil {
		return domain.Bookmark{}, fmt.Errorf("failed to unmarshal bookmark: %w", err)
	}
	return bm, nil
}

// publish is best effort: a lost event is recovered by the next bulk fetch,
// and the mutating client already applied the change from the response.
func (s *Store) publish(ctx context.Context, owner string, ev domain.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_ = s.client.Publish(ctx, FeedChannel(owner), data).Err()
}
