package redis

import "fmt"

// Key construction helpers for the state mirror

// PersonKey returns the key for a person's latest room-state snapshot (hash).
// Pattern: person:{personId}
func PersonKey(personID string) string {
	return fmt.Sprintf("person:%s", personID)
}

// RoomHistoryKey returns the key for a person's committed-room history
// (sorted set scored by unix seconds).
// Pattern: history:room:{personId}
func RoomHistoryKey(personID string) string {
	return fmt.Sprintf("history:room:%s", personID)
}

// BarrierKey returns the key for a barrier's latest state (hash).
// Pattern: barrier:{barrierId}
func BarrierKey(barrierID string) string {
	return fmt.Sprintf("barrier:%s", barrierID)
}

// BarrierHistoryKey returns the key for a barrier's value-change history
// (sorted set scored by unix seconds).
// Pattern: history:barrier:{barrierId}
func BarrierHistoryKey(barrierID string) string {
	return fmt.Sprintf("history:barrier:%s", barrierID)
}
