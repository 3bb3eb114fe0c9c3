package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/roomer-home/roomer/internal/house"
	"github.com/roomer-home/roomer/pkg/redis"
)

// historyRetention bounds the mirrored history sorted sets
const historyRetention = 24 * time.Hour

// Storage mirrors tracker state into Redis so dashboards and other
// consumers can read it without subscribing to the live stream.
type Storage struct {
	redisClient redis.Client
	logger      *slog.Logger
}

// NewStorage creates a Redis-backed state mirror
func NewStorage(redisClient redis.Client, logger *slog.Logger) *Storage {
	return &Storage{
		redisClient: redisClient,
		logger:      logger,
	}
}

// StoreSnapshot mirrors a person's published snapshot into a hash and
// appends committed-room changes to the person's history set
func (s *Storage) StoreSnapshot(ctx context.Context, snap Snapshot) error {
	locked, err := json.Marshal(snap.LockedBarriers)
	if err != nil {
		return fmt.Errorf("failed to marshal locked barriers for %s: %w", snap.PersonID, err)
	}

	key := redis.PersonKey(snap.PersonID)
	err = s.redisClient.HSet(ctx, key,
		"room", snap.Room,
		"room0", snap.Room0,
		"room5", snap.Room5,
		"room15", snap.Room15,
		"room120", snap.Room120,
		"activeDevice", snap.ActiveDevice,
		"superStable", strconv.FormatBool(snap.SuperStable),
		"blockedTransition", strconv.FormatBool(snap.Blocked),
		"lockedBarriers", string(locked),
		"updated", strconv.FormatInt(snap.Timestamp.Unix(), 10),
	)
	if err != nil {
		return fmt.Errorf("failed to store snapshot for %s: %w", snap.PersonID, err)
	}
	return nil
}

// AppendRoomHistory records one committed-room change and prunes entries
// past the retention window
func (s *Storage) AppendRoomHistory(ctx context.Context, personID string, entry RoomEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal room history entry: %w", err)
	}

	key := redis.RoomHistoryKey(personID)
	if err := s.redisClient.ZAdd(ctx, key, float64(entry.Timestamp.Unix()), string(payload)); err != nil {
		return fmt.Errorf("failed to append room history for %s: %w", personID, err)
	}

	cutoff := entry.Timestamp.Add(-historyRetention).Unix()
	if err := s.redisClient.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10)); err != nil {
		s.logger.Warn("Failed to prune room history", "person", personID, "error", err)
	}
	if err := s.redisClient.Expire(ctx, key, historyRetention); err != nil {
		s.logger.Warn("Failed to refresh room history TTL", "person", personID, "error", err)
	}
	return nil
}

// LastCommittedRoom reads the committed room from a person's mirrored
// state hash. Returns the empty string when no mirror exists yet.
func (s *Storage) LastCommittedRoom(ctx context.Context, personID string) (string, error) {
	fields, err := s.redisClient.HGetAll(ctx, redis.PersonKey(personID))
	if err != nil {
		return "", fmt.Errorf("failed to load person state for %s: %w", personID, err)
	}
	return fields["room"], nil
}

// LoadRoomHistory reads a person's mirrored room history since the given time
func (s *Storage) LoadRoomHistory(ctx context.Context, personID string, since time.Time) ([]RoomEntry, error) {
	key := redis.RoomHistoryKey(personID)
	members, err := s.redisClient.ZRangeByScoreWithScores(ctx, key, float64(since.Unix()), float64(time.Now().Unix()))
	if err != nil {
		return nil, fmt.Errorf("failed to load room history for %s: %w", personID, err)
	}

	entries := make([]RoomEntry, 0, len(members))
	for _, m := range members {
		var entry RoomEntry
		if err := json.Unmarshal([]byte(m.Member), &entry); err != nil {
			s.logger.Warn("Skipping malformed room history entry", "person", personID, "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// StoreBarrierState mirrors one barrier's live state
func (s *Storage) StoreBarrierState(ctx context.Context, state house.BarrierState) error {
	key := redis.BarrierKey(state.ID)
	err := s.redisClient.HSet(ctx, key,
		"name", state.Name,
		"kind", string(state.Kind),
		"value", string(state.Value),
		"stale", strconv.FormatBool(state.Stale),
		"updated", strconv.FormatInt(state.LastUpdate.Unix(), 10),
	)
	if err != nil {
		return fmt.Errorf("failed to store barrier state for %s: %w", state.ID, err)
	}
	return nil
}

// AppendBarrierHistory records one barrier change and prunes entries past
// the retention window
func (s *Storage) AppendBarrierHistory(ctx context.Context, event house.ChangeEvent) error {
	entry := struct {
		Value     string    `json:"value"`
		Timestamp time.Time `json:"timestamp"`
	}{
		Value:     string(event.Value),
		Timestamp: event.Timestamp,
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal barrier history entry: %w", err)
	}

	key := redis.BarrierHistoryKey(event.BarrierID)
	if err := s.redisClient.ZAdd(ctx, key, float64(event.Timestamp.Unix()), string(payload)); err != nil {
		return fmt.Errorf("failed to append barrier history for %s: %w", event.BarrierID, err)
	}

	cutoff := event.Timestamp.Add(-historyRetention).Unix()
	if err := s.redisClient.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10)); err != nil {
		s.logger.Warn("Failed to prune barrier history", "barrier", event.BarrierID, "error", err)
	}
	if err := s.redisClient.Expire(ctx, key, historyRetention); err != nil {
		s.logger.Warn("Failed to refresh barrier history TTL", "barrier", event.BarrierID, "error", err)
	}
	return nil
}
