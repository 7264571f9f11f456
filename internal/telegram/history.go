package telegram

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/gotd/td/tg"

	"github.com/edgard/tgarchive/internal/remote"
)

// FetchMessages returns messages newer than offsetID in ascending order,
// or exactly ids when given. Flood control is returned to the caller as a
// FloodWaitError and never retried here.
func (s *session) FetchMessages(ctx context.Context, group remote.Group, offsetID int64, limit int, ids []int64) ([]remote.Message, error) {
	peer, ok := group.Ref.(tg.InputPeerClass)
	if !ok || peer == nil {
		return nil, fmt.Errorf("group %d has no input peer", group.ID)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	var (
		res tg.MessagesMessagesClass
		err error
	)
	if len(ids) > 0 {
		res, err = s.getMessages(ctx, peer, ids)
	} else {
		res, err = s.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:      peer,
			OffsetID:  int(offsetID) + 1,
			AddOffset: -limit,
			Limit:     limit,
			MinID:     int(offsetID),
		})
	}
	if err != nil {
		return nil, s.wrapRPCError("fetch messages", err)
	}

	modified, ok := res.AsModified()
	if !ok {
		return nil, nil
	}
	entities := buildEntityLookup(modified.GetUsers(), modified.GetChats())

	out := make([]remote.Message, 0, len(modified.GetMessages()))
	for _, raw := range modified.GetMessages() {
		msg, ok := decodeMessage(raw, entities, peer)
		if !ok {
			continue
		}
		if len(ids) == 0 && msg.ID <= offsetID {
			continue
		}
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(ids) == 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *session) getMessages(ctx context.Context, peer tg.InputPeerClass, ids []int64) (tg.MessagesMessagesClass, error) {
	inputs := make([]tg.InputMessageClass, 0, len(ids))
	for _, id := range ids {
		inputs = append(inputs, &tg.InputMessageID{ID: int(id)})
	}
	if p, ok := peer.(*tg.InputPeerChannel); ok {
		return s.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
			Channel: &tg.InputChannel{ChannelID: p.ChannelID, AccessHash: p.AccessHash},
			ID:      inputs,
		})
	}
	return s.api.MessagesGetMessages(ctx, inputs)
}

var errMessageGone = errors.New("message no longer exists")

// refetch loads one message again to obtain fresh file references.
func (s *session) refetch(ctx context.Context, peer tg.InputPeerClass, msgID int) (remote.Message, error) {
	res, err := s.getMessages(ctx, peer, []int64{int64(msgID)})
	if err != nil {
		return remote.Message{}, err
	}
	modified, ok := res.AsModified()
	if !ok {
		return remote.Message{}, errMessageGone
	}
	entities := buildEntityLookup(modified.GetUsers(), modified.GetChats())
	for _, raw := range modified.GetMessages() {
		if msg, ok := decodeMessage(raw, entities, peer); ok && msg.ID == int64(msgID) {
			return msg, nil
		}
	}
	return remote.Message{}, errMessageGone
}
