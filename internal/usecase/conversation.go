package usecase

import (
	"context"
	"errors"
	"slices"

	"staffchat/internal/entity"
	"staffchat/internal/repository"
)

// ResolveConversation maps addressing fields to a conversation key. A zero
// id counts as absent; a negative id is invalid.
func ResolveConversation(senderId int64, receiverId, groupId *int64) (entity.ConversationKey, error) {
	if senderId <= 0 {
		return "", ErrInvalidAddressing
	}

	receiver, hasReceiver, err := optionalId(receiverId)
	if err != nil {
		return "", err
	}
	group, hasGroup, err := optionalId(groupId)
	if err != nil {
		return "", err
	}

	switch {
	case hasReceiver && hasGroup:
		return "", ErrInvalidAddressing
	case hasReceiver:
		return entity.PrivateKey(senderId, receiver), nil
	case hasGroup:
		return entity.GroupKey(group), nil
	}
	return entity.BroadcastKey, nil
}

func optionalId(id *int64) (int64, bool, error) {
	if id == nil || *id == 0 {
		return 0, false, nil
	}
	if *id < 0 {
		return 0, false, ErrInvalidAddressing
	}
	return *id, true, nil
}

// groupMembers maps repository errors of a membership lookup to usecase errors.
func groupMembers(ctx context.Context, groupRepo repository.GroupRepository, groupId int64) ([]int64, error) {
	members, err := groupRepo.MembersOf(ctx, groupId)
	if err != nil {
		if errors.Is(err, repository.ErrGroupNotFound) {
			return nil, ErrGroupNotFound
		}
		return nil, storeError(err)
	}
	return members, nil
}

func without(users []int64, exclude int64) []int64 {
	out := make([]int64, 0, len(users))
	for _, u := range users {
		if u != exclude {
			out = append(out, u)
		}
	}
	return out
}

func contains(users []int64, user int64) bool {
	return slices.Contains(users, user)
}
