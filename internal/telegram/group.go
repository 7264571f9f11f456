package telegram

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/gotd/td/telegram/query"
	"github.com/gotd/td/telegram/query/dialogs"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	apperrors "github.com/edgard/tgarchive/internal/errors"
	"github.com/edgard/tgarchive/internal/remote"
)

const channelChatIDOffset int64 = 1_000_000_000_000

var (
	usernamePattern = regexp.MustCompile(`^@?[A-Za-z][A-Za-z0-9_]{3,31}$`)
	errStopDialogs  = errors.New("stop dialogs iteration")
)

// groupCandidate is a chat or channel visible to the account.
type groupCandidate struct {
	group    remote.Group
	username string
	left     bool
}

// groupMatcher matches an operator supplied identifier: a numeric id in
// raw, -id chat or -100 channel form, an @handle or username, or a title.
type groupMatcher struct {
	raw      string
	id       int64
	numeric  bool
	username string
}

func newGroupMatcher(identifier string) groupMatcher {
	m := groupMatcher{raw: strings.TrimSpace(identifier)}
	if n, err := strconv.ParseInt(m.raw, 10, 64); err == nil {
		m.numeric = true
		switch {
		case n <= -channelChatIDOffset:
			m.id = -n - channelChatIDOffset
		case n < 0:
			m.id = -n
		default:
			m.id = n
		}
		return m
	}
	m.username = strings.TrimPrefix(m.raw, "@")
	return m
}

func (m groupMatcher) match(c groupCandidate) bool {
	if m.numeric {
		return c.group.ID == m.id
	}
	if c.username != "" && strings.EqualFold(c.username, m.username) {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(c.group.Title), m.raw)
}

func (m groupMatcher) looksLikeUsername() bool {
	return !m.numeric && usernamePattern.MatchString(m.raw)
}

// ResolveGroup pages through every dialog, which also refreshes the
// access hashes of visible entities, and returns the matching group.
func (s *session) ResolveGroup(ctx context.Context, identifier string) (remote.Group, error) {
	matcher := newGroupMatcher(identifier)
	if matcher.raw == "" {
		return remote.Group{}, apperrors.NewGroupNotFoundError(identifier, nil)
	}

	var (
		found *groupCandidate
		count int
	)
	err := query.GetDialogs(s.api).BatchSize(100).ForEach(ctx, func(_ context.Context, elem dialogs.Elem) error {
		count++
		cand, ok := candidateFromElem(elem)
		if !ok || !matcher.match(cand) {
			return nil
		}
		found = &cand
		return errStopDialogs
	})
	if err != nil && !errors.Is(err, errStopDialogs) {
		return remote.Group{}, s.wrapRPCError("list dialogs", err)
	}
	s.logger.DebugContext(ctx, "Scanned dialogs", "count", count, "group", identifier)

	if found == nil && matcher.looksLikeUsername() {
		cand, ok, err := s.resolveUsername(ctx, matcher.username)
		if err != nil {
			return remote.Group{}, err
		}
		if ok {
			found = &cand
		}
	}
	if found == nil {
		return remote.Group{}, apperrors.NewGroupNotFoundError(identifier, nil)
	}
	if found.left {
		return remote.Group{}, apperrors.NewNotAMemberError(identifier)
	}
	s.logger.InfoContext(ctx, "Resolved group", "group", found.group.Title, "group_id", found.group.ID)
	return found.group, nil
}

func candidateFromElem(elem dialogs.Elem) (groupCandidate, bool) {
	switch peer := elem.Dialog.GetPeer().(type) {
	case *tg.PeerChat:
		chat, ok := elem.Entities.Chat(peer.ChatID)
		if !ok || chat == nil {
			return groupCandidate{}, false
		}
		return groupCandidate{
			group: remote.Group{ID: chat.ID, Title: chat.Title, Ref: elem.Peer},
			left:  chat.Left || chat.Deactivated,
		}, true
	case *tg.PeerChannel:
		channel, ok := elem.Entities.Channel(peer.ChannelID)
		if !ok || channel == nil {
			return groupCandidate{}, false
		}
		return groupCandidate{
			group:    remote.Group{ID: channel.ID, Title: channel.Title, Ref: elem.Peer},
			username: channel.Username,
			left:     channel.Left,
		}, true
	}
	return groupCandidate{}, false
}

func (s *session) resolveUsername(ctx context.Context, username string) (groupCandidate, bool, error) {
	resolved, err := s.api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: username})
	if err != nil {
		if isUsernameNotFound(err) {
			return groupCandidate{}, false, nil
		}
		return groupCandidate{}, false, s.wrapRPCError("resolve username", err)
	}

	switch peer := resolved.Peer.(type) {
	case *tg.PeerChannel:
		for _, chat := range resolved.Chats {
			switch c := chat.(type) {
			case *tg.Channel:
				if c.ID != peer.ChannelID {
					continue
				}
				ref := &tg.InputPeerChannel{ChannelID: c.ID, AccessHash: c.AccessHash}
				return groupCandidate{
					group:    remote.Group{ID: c.ID, Title: c.Title, Ref: ref},
					username: c.Username,
					left:     c.Left,
				}, true, nil
			case *tg.ChannelForbidden:
				if c.ID != peer.ChannelID {
					continue
				}
				return groupCandidate{group: remote.Group{ID: c.ID, Title: c.Title}, left: true}, true, nil
			}
		}
	}
	return groupCandidate{}, false, nil
}

func isUsernameNotFound(err error) bool {
	return tgerr.Is(err, "USERNAME_NOT_OCCUPIED", "USERNAME_INVALID")
}
