// Copyright 2024-2026 Aiku AI

package mattermost

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/mattermost-irc-relay/pkg/relay"
)

// handleEvent dispatches a Mattermost WebSocket event. Only new posts in the
// relay channel are forwarded.
func (c *Client) handleEvent(ctx context.Context, evt *model.WebSocketEvent, h relay.Handler) {
	switch evt.EventType() {
	case model.WebsocketEventPosted:
		post, err := c.parsePostedEvent(evt)
		if err != nil {
			c.log.Warn().Err(err).Msg("Failed to parse posted event")
			return
		}
		if post == nil {
			return
		}
		h.HandlePlatformMessage(ctx, c.toRelayMessage(ctx, evt, post))
	default:
		c.log.Trace().Str("event_type", string(evt.EventType())).Msg("Unhandled event type")
	}
}

// parsePostedEvent extracts a post from a WebSocket event, applying all echo
// prevention layers. Returns (nil, nil) to skip silently, (nil, err) to log
// an error, or (post, nil) to proceed.
func (c *Client) parsePostedEvent(evt *model.WebSocketEvent) (*model.Post, error) {
	postJSON, ok := evt.GetData()["post"].(string)
	if !ok {
		return nil, fmt.Errorf("posted event missing post data")
	}

	var post model.Post
	if err := json.Unmarshal([]byte(postJSON), &post); err != nil {
		return nil, fmt.Errorf("failed to unmarshal post: %w", err)
	}

	channelID := post.ChannelId
	if channelID == "" {
		channelID = evt.GetBroadcast().ChannelId
	}
	if channelID != c.cfg.ChannelID {
		return nil, nil
	}

	userID, _ := c.session()
	if post.UserId == userID {
		return nil, nil
	}

	// System messages (joins, header changes) are not relayed.
	if post.Type != "" && post.Type != model.PostTypeDefault {
		return nil, nil
	}

	// Bot-authored posts, including our own webhook posts.
	if isTruthyProp(post.GetProp(model.PostPropsFromBot)) || isTruthyProp(post.GetProp(model.PostPropsFromWebhook)) {
		c.log.Debug().Str("post_id", post.Id).Msg("Skipping bot post (echo prevention)")
		return nil, nil
	}

	senderName, _ := evt.GetData()["sender_name"].(string)
	senderName = strings.TrimPrefix(senderName, "@")
	if isRelayUsername(senderName, c.cfg.BotPrefix) {
		c.log.Debug().
			Str("post_id", post.Id).
			Str("username", senderName).
			Msg("Skipping bot prefix post (echo prevention)")
		return nil, nil
	}

	return &post, nil
}

// isTruthyProp reports whether a post prop carries a true flag. Mattermost
// stores these as "true" strings, older plugins as booleans.
func isTruthyProp(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val == "true"
	default:
		return false
	}
}

// isRelayUsername reports whether username belongs to a bot that must not be
// relayed, according to the configured prefix.
func isRelayUsername(username, botPrefix string) bool {
	return username != "" && botPrefix != "" && strings.HasPrefix(username, botPrefix)
}

func (c *Client) toRelayMessage(ctx context.Context, evt *model.WebSocketEvent, post *model.Post) *relay.RelayMessage {
	fallback, _ := evt.GetData()["sender_name"].(string)
	msg := relay.NewMessage(relay.SidePlatform, "", c.displayName(ctx, post.UserId, strings.TrimPrefix(fallback, "@")), post.Message)
	msg.Attachments = c.attachmentLinks(ctx, post.FileIds)
	return msg
}

// displayName returns the user's nickname, else their username. Lookups are
// cached for the life of the client.
func (c *Client) displayName(ctx context.Context, userID, fallback string) string {
	if name, ok := c.names.Get(userID); ok {
		return name
	}
	user, _, err := c.api.GetUser(ctx, userID, "")
	if err != nil {
		c.log.Debug().Err(err).Str("user_id", userID).Msg("Failed to look up user, using sender name")
		if fallback == "" {
			return userID
		}
		return fallback
	}
	name := user.Nickname
	if name == "" {
		name = user.Username
	}
	c.names.Set(userID, name)
	return name
}

// attachmentLinks resolves post file ids to URLs. Public links are used when
// the server allows them; otherwise the authenticated REST URL is used.
func (c *Client) attachmentLinks(ctx context.Context, fileIDs []string) []string {
	if len(fileIDs) == 0 {
		return nil
	}
	links := make([]string, 0, len(fileIDs))
	for _, id := range fileIDs {
		link, _, err := c.api.GetFileLink(ctx, id)
		if err != nil || link == "" {
			link = c.cfg.ServerURL + "/api/v4/files/" + id
		}
		links = append(links, link)
	}
	return links
}
