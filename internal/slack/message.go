package slack

import (
	"fmt"

	slackgo "github.com/slack-go/slack"

	"emojipapertrail/relay/internal/model"
)

// Message is a chat.postMessage request: the fallback text and its Block Kit
// layout.
type Message struct {
	Channel string
	Text    string
	Blocks  []slackgo.Block
}

func (m Message) options() []slackgo.MsgOption {
	opts := []slackgo.MsgOption{slackgo.MsgOptionText(m.Text, false)}
	if len(m.Blocks) > 0 {
		opts = append(opts, slackgo.MsgOptionBlocks(m.Blocks...))
	}
	return opts
}

func mrkdwn(text string) *slackgo.TextBlockObject {
	return slackgo.NewTextBlockObject(slackgo.MarkdownType, text, false, false)
}

// EmojiUpdateText is the plain-text notification for a new emoji or alias.
func EmojiUpdateText(emoji model.EmojiInfo) string {
	kind := "emoji"
	if emoji.IsAlias() {
		kind = fmt.Sprintf("alias of `%s`", emoji.AliasOf)
	}
	if emoji.Author != "" {
		return fmt.Sprintf("New %s added by @%s!", kind, emoji.Author)
	}
	return fmt.Sprintf("New %s added!", kind)
}

// NewEmojiUpdateMessage builds the notification: the text line, a two-column
// name/emoji table and the image as an accessory.
func NewEmojiUpdateMessage(channel string, emoji model.EmojiInfo) Message {
	text := EmojiUpdateText(emoji)

	section := slackgo.NewSectionBlock(
		mrkdwn(text),
		[]*slackgo.TextBlockObject{
			mrkdwn("*Name*"),
			mrkdwn("*Emoji*"),
			mrkdwn(fmt.Sprintf("`%s`", emoji)),
			mrkdwn(emoji.String()),
		},
		slackgo.NewAccessory(slackgo.NewImageBlockElement(emoji.ImageURL, emoji.String())),
	)

	return Message{
		Channel: channel,
		Text:    text,
		Blocks:  []slackgo.Block{section},
	}
}

// SectionBlocks returns the message's section blocks in order.
func (m Message) SectionBlocks() []*slackgo.SectionBlock {
	var out []*slackgo.SectionBlock
	for _, b := range m.Blocks {
		if s, ok := b.(*slackgo.SectionBlock); ok {
			out = append(out, s)
		}
	}
	return out
}
