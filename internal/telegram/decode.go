package telegram

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gotd/td/tg"

	"github.com/edgard/tgarchive/internal/remote"
)

const (
	photoMimeType   = "image/jpeg"
	contactMimeType = "text/x-vcard"
	nameTimeLayout  = "2006-01-02_15-04-05"
)

// fileRef locates a downloadable attachment. peer and msgID are kept so an
// expired file reference can be refreshed by fetching the message again.
type fileRef struct {
	peer     tg.InputPeerClass
	msgID    int
	location tg.InputFileLocationClass
	thumb    tg.InputFileLocationClass
	vcard    []byte
}

// avatarRef locates a user's current profile photo.
type avatarRef struct {
	peer    *tg.InputPeerUser
	photoID int64
}

type entityLookup struct {
	users    map[int64]*tg.User
	chats    map[int64]string
	channels map[int64]string
}

func buildEntityLookup(users []tg.UserClass, chats []tg.ChatClass) entityLookup {
	lookup := entityLookup{
		users:    make(map[int64]*tg.User, len(users)),
		chats:    map[int64]string{},
		channels: map[int64]string{},
	}
	for _, userClass := range users {
		if user, ok := userClass.(*tg.User); ok && user != nil {
			lookup.users[user.ID] = user
		}
	}
	for _, chatClass := range chats {
		switch entry := chatClass.(type) {
		case *tg.Chat:
			lookup.chats[entry.ID] = entry.Title
		case *tg.ChatForbidden:
			lookup.chats[entry.ID] = entry.Title
		case *tg.Channel:
			lookup.channels[entry.ID] = entry.Title
		case *tg.ChannelForbidden:
			lookup.channels[entry.ID] = entry.Title
		}
	}
	return lookup
}

// decodeMessage converts a raw history entry. It returns false for
// entries that carry no message (deleted ids).
func decodeMessage(raw tg.MessageClass, entities entityLookup, peer tg.InputPeerClass) (remote.Message, bool) {
	switch m := raw.(type) {
	case *tg.Message:
		msg := remote.Message{
			ID:     int64(m.ID),
			Date:   unixTime(m.Date),
			Text:   m.Message,
			Sender: resolveSender(m.FromID, m.PeerID, entities),
		}
		if edit, ok := m.GetEditDate(); ok && edit > 0 {
			t := unixTime(edit)
			msg.EditDate = &t
		}
		msg.ReplyTo = replyTo(m.ReplyTo)
		if media, ok := m.GetMedia(); ok {
			msg.Media = decodeMedia(media, peer, m.ID, msg.Date)
		}
		return msg, true

	case *tg.MessageService:
		msg := remote.Message{
			ID:     int64(m.ID),
			Date:   unixTime(m.Date),
			Sender: resolveSender(m.FromID, m.PeerID, entities),
			Action: decodeAction(m.Action),
		}
		msg.ReplyTo = replyTo(m.ReplyTo)
		return msg, true
	}
	return remote.Message{}, false
}

func unixTime(sec int) time.Time {
	return time.Unix(int64(sec), 0).UTC()
}

func replyTo(header tg.MessageReplyHeaderClass) *int64 {
	h, ok := header.(*tg.MessageReplyHeader)
	if !ok {
		return nil
	}
	if h.ReplyToMsgID == 0 {
		return nil
	}
	v := int64(h.ReplyToMsgID)
	return &v
}

func decodeAction(action tg.MessageActionClass) remote.Action {
	switch action.(type) {
	case *tg.MessageActionChatAddUser, *tg.MessageActionChatJoinedByLink, *tg.MessageActionChatJoinedByRequest:
		return remote.ActionJoined
	case *tg.MessageActionChatDeleteUser:
		return remote.ActionLeft
	}
	return remote.ActionNone
}

// resolveSender maps the author of a message. Posts without an explicit
// author, such as anonymous admins, are attributed to the channel itself.
func resolveSender(from, peer tg.PeerClass, entities entityLookup) *remote.Sender {
	if from == nil {
		from = peer
	}
	switch p := from.(type) {
	case *tg.PeerUser:
		user, ok := entities.users[p.UserID]
		if !ok {
			return nil
		}
		return userSender(user)
	case *tg.PeerChannel:
		title, ok := entities.channels[p.ChannelID]
		if !ok {
			return nil
		}
		return &remote.Sender{Kind: remote.SenderChannel, ID: p.ChannelID, Title: title}
	case *tg.PeerChat:
		title, ok := entities.chats[p.ChatID]
		if !ok {
			return nil
		}
		return &remote.Sender{Kind: remote.SenderChannel, ID: p.ChatID, Title: title}
	}
	return nil
}

func userSender(user *tg.User) *remote.Sender {
	s := &remote.Sender{
		Kind:      remote.SenderUser,
		ID:        user.ID,
		Username:  user.Username,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Bot:       user.Bot,
		Scam:      user.Scam,
		Fake:      user.Fake,
	}
	if photo, ok := user.Photo.(*tg.UserProfilePhoto); ok {
		s.Photo = &avatarRef{
			peer:    &tg.InputPeerUser{UserID: user.ID, AccessHash: user.AccessHash},
			photoID: photo.PhotoID,
		}
	}
	return s
}

func decodeMedia(media tg.MessageMediaClass, peer tg.InputPeerClass, msgID int, date time.Time) remote.Media {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		photoClass, ok := m.GetPhoto()
		if !ok {
			return nil
		}
		photo, ok := photoClass.AsNotEmpty()
		if !ok {
			return nil
		}
		full, thumb, ok := photoSizes(photo.Sizes)
		if !ok {
			return nil
		}
		loc := func(size string) tg.InputFileLocationClass {
			return &tg.InputPhotoFileLocation{
				ID:            photo.ID,
				AccessHash:    photo.AccessHash,
				FileReference: photo.FileReference,
				ThumbSize:     size,
			}
		}
		return remote.File{
			Kind:     remote.FilePhoto,
			MimeType: photoMimeType,
			FileName: "photo_" + date.Format(nameTimeLayout) + ".jpg",
			HasThumb: true,
			Ref:      &fileRef{peer: peer, msgID: msgID, location: loc(full), thumb: loc(thumb)},
		}

	case *tg.MessageMediaDocument:
		docClass, ok := m.GetDocument()
		if !ok {
			return nil
		}
		doc, ok := docClass.AsNotEmpty()
		if !ok {
			return nil
		}
		if alt, ok := stickerAlt(doc.Attributes); ok {
			return remote.Sticker{Alt: alt}
		}
		name := documentFilename(doc.Attributes)
		if name == "" {
			name = "document_" + date.Format(nameTimeLayout) + extensionFor(doc.MimeType)
		}
		return remote.File{
			Kind:     remote.FileDocument,
			MimeType: doc.MimeType,
			FileName: name,
			Ref: &fileRef{peer: peer, msgID: msgID, location: &tg.InputDocumentFileLocation{
				ID:            doc.ID,
				AccessHash:    doc.AccessHash,
				FileReference: doc.FileReference,
			}},
		}

	case *tg.MessageMediaContact:
		name := strings.TrimSpace(m.FirstName)
		if name == "" {
			name = m.PhoneNumber
		}
		if name == "" {
			name = "contact_" + date.Format(nameTimeLayout)
		}
		return remote.File{
			Kind:     remote.FileContact,
			MimeType: contactMimeType,
			FileName: name + ".vcf",
			Ref:      &fileRef{peer: peer, msgID: msgID, vcard: contactVCard(m)},
		}

	case *tg.MessageMediaPoll:
		return decodePoll(m)

	case *tg.MessageMediaWebPage:
		page, ok := m.Webpage.(*tg.WebPage)
		if !ok || page.URL == "" {
			return nil
		}
		return remote.WebPage{URL: page.URL, Title: page.Title, Description: page.Description}
	}
	return nil
}

type sizedPhoto struct {
	typ  string
	area int
}

// photoSizes returns the largest size type and the thumbnail size type:
// the second smallest, or the only size when there is just one.
func photoSizes(sizes []tg.PhotoSizeClass) (full, thumb string, ok bool) {
	var list []sizedPhoto
	for _, s := range sizes {
		switch v := s.(type) {
		case *tg.PhotoSize:
			list = append(list, sizedPhoto{typ: v.Type, area: v.W * v.H})
		case *tg.PhotoSizeProgressive:
			list = append(list, sizedPhoto{typ: v.Type, area: v.W * v.H})
		}
	}
	if len(list) == 0 {
		return "", "", false
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].area < list[j].area })
	full = list[len(list)-1].typ
	thumb = list[0].typ
	if len(list) > 1 {
		thumb = list[1].typ
	}
	return full, thumb, true
}

func stickerAlt(attrs []tg.DocumentAttributeClass) (string, bool) {
	for _, attr := range attrs {
		if s, ok := attr.(*tg.DocumentAttributeSticker); ok {
			return s.Alt, true
		}
	}
	return "", false
}

func documentFilename(attrs []tg.DocumentAttributeClass) string {
	for _, attr := range attrs {
		if named, ok := attr.(*tg.DocumentAttributeFilename); ok && named != nil {
			return named.FileName
		}
	}
	return ""
}

func extensionFor(mime string) string {
	if m := mimetype.Lookup(mime); m != nil {
		return m.Extension()
	}
	return ""
}

func decodePoll(m *tg.MessageMediaPoll) remote.Media {
	poll := remote.Poll{Question: m.Poll.Question.Text, TotalVoters: m.Results.TotalVoters}
	results, _ := m.Results.GetResults()
	poll.HasResults = len(results) > 0
	for _, a := range m.Poll.Answers {
		answer := remote.PollAnswer{Label: a.Text.Text}
		for _, r := range results {
			if bytes.Equal(r.Option, a.Option) {
				answer.Voters = r.Voters
				answer.Correct = r.Correct
				break
			}
		}
		poll.Answers = append(poll.Answers, answer)
	}
	return poll
}

func contactVCard(m *tg.MessageMediaContact) []byte {
	if strings.TrimSpace(m.Vcard) != "" {
		return []byte(m.Vcard)
	}
	var b strings.Builder
	b.WriteString("BEGIN:VCARD\r\nVERSION:3.0\r\n")
	fmt.Fprintf(&b, "N:%s;%s;;;\r\n", m.LastName, m.FirstName)
	fmt.Fprintf(&b, "FN:%s\r\n", strings.TrimSpace(m.FirstName+" "+m.LastName))
	if m.PhoneNumber != "" {
		fmt.Fprintf(&b, "TEL;TYPE=CELL:%s\r\n", m.PhoneNumber)
	}
	b.WriteString("END:VCARD\r\n")
	return []byte(b.String())
}
