// internal/app/participants.go
package app

import (
	"context"
	"fmt"

	"gift_circle_bot/internal/domain/chat"
	"gift_circle_bot/internal/domain/person"
)

// resolveParticipants computes the eligible participant set for a cycle:
// every registered person who still has view access to the venue, minus the
// celebrant and the bot itself. Called fresh at thread-creation and receipt
// time; after receipt the frozen snapshot is authoritative.
func resolveParticipants(ctx context.Context, persons person.Repository, client chat.Client, celebrantID int64) ([]int64, error) {
	all, err := persons.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list registered persons: %w", err)
	}

	participants := make([]int64, 0, len(all))
	for _, p := range all {
		if p.ChatUserID == celebrantID || p.ChatUserID == client.BotID() {
			continue
		}
		ok, err := client.HasViewAccess(ctx, p.ChatUserID)
		if err != nil {
			// Treat an unverifiable member as absent rather than failing the
			// whole resolution.
			continue
		}
		if ok {
			participants = append(participants, p.ChatUserID)
		}
	}
	return participants, nil
}
