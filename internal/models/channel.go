package models

import (
	"fmt"
	"strings"
)

// Channel identifies the conversation surface an application record belongs to.
type Channel string

const (
	ChannelWeb  Channel = "web"
	ChannelChat Channel = "chat"
)

// ParseChannel accepts the canonical names plus "whatsapp" as an alias of chat.
func ParseChannel(s string) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "web":
		return ChannelWeb, nil
	case "chat", "whatsapp":
		return ChannelChat, nil
	default:
		return "", fmt.Errorf("unknown channel %q", s)
	}
}

// Other returns the sibling channel.
func (c Channel) Other() Channel {
	if c == ChannelWeb {
		return ChannelChat
	}
	return ChannelWeb
}

func (c Channel) Valid() bool {
	return c == ChannelWeb || c == ChannelChat
}
