/*
Package communication provides messaging and notification services.

Subpackages:

  - chat: Chat delivery (Slack, Discord, and an in-memory sender)

chat is the only subpackage.

Usage:

	import "github.com/olegeech-me/statustracker/pkg/communication/chat/adapters/slack"

	sender, err := slack.New(cfg)
	err = sender.Send(ctx, &chat.Message{ChannelID: "C123", Text: "Hello"})
*/
package communication
