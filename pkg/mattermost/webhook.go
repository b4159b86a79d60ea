// Copyright 2024-2026 Aiku AI

package mattermost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mattermost/mattermost/server/public/model"
	"go.mau.fi/util/exhttp"

	"github.com/aiku/mattermost-irc-relay/pkg/relay"
)

const webhookPageSize = 200

// SendAs posts text under identity through an incoming webhook. When no
// webhook can be listed or created the client latches into fallback mode
// for its lifetime, recording one error, and every later call posts
// "**<identity>** text" as the bot instead.
func (c *Client) SendAs(ctx context.Context, identity relay.Identity, text string) error {
	if c.fallback.Load() {
		return c.Send(ctx, relay.PlainPlatformText(identity.Username, text))
	}
	hookID, err := c.resolveWebhook(ctx)
	if err != nil {
		return err
	}
	if hookID == "" {
		return c.Send(ctx, relay.PlainPlatformText(identity.Username, text))
	}
	iconURL := identity.IconURL
	if iconURL == "" {
		iconURL = c.cfg.IconURL
	}
	return c.executeWebhook(ctx, hookID, &model.IncomingWebhookRequest{
		Text:     text,
		Username: identity.Username,
		IconURL:  iconURL,
		Props:    model.StringInterface{disableGroupHighlightProp: true},
	})
}

// Fallback reports whether identity-preserving posting has been disabled.
func (c *Client) Fallback() bool {
	return c.fallback.Load()
}

// resolveWebhook returns the webhook id to post through. An empty id with a
// nil error means the fallback latch was set.
func (c *Client) resolveWebhook(ctx context.Context) (string, error) {
	c.webhookMu.Lock()
	defer c.webhookMu.Unlock()
	if c.webhookID != "" {
		return c.webhookID, nil
	}
	if c.fallback.Load() {
		return "", nil
	}
	userID, teamID := c.session()
	if teamID == "" {
		return "", ErrNotConnected
	}

	hook, err := c.findOrCreateWebhook(ctx, userID, teamID)
	if err != nil {
		c.fallback.Store(true)
		c.recorder.RecordError()
		c.log.Warn().Err(err).Msg("Webhooks unavailable, falling back to plain bot posts")
		return "", nil
	}
	c.webhookID = hook.Id
	return hook.Id, nil
}

func (c *Client) findOrCreateWebhook(ctx context.Context, userID, teamID string) (*model.IncomingWebhook, error) {
	hooks, _, err := c.api.GetIncomingWebhooksForTeam(ctx, teamID, 0, webhookPageSize, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list incoming webhooks: %w", err)
	}
	for _, hook := range hooks {
		if hook.ChannelId == c.cfg.ChannelID && hook.DisplayName == c.cfg.WebhookName && hook.UserId == userID {
			c.log.Info().Str("webhook_id", hook.Id).Msg("Reusing incoming webhook")
			return hook, nil
		}
	}
	created, _, err := c.api.CreateIncomingWebhook(ctx, &model.IncomingWebhook{
		ChannelId:   c.cfg.ChannelID,
		DisplayName: c.cfg.WebhookName,
		Description: "Messages relayed from IRC",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create incoming webhook: %w", err)
	}
	c.log.Info().Str("webhook_id", created.Id).Msg("Created incoming webhook")
	return created, nil
}

func (c *Client) executeWebhook(ctx context.Context, hookID string, payload *model.IncomingWebhookRequest) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ServerURL+"/hooks/"+hookID, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		if exhttp.IsNetworkError(err) {
			c.log.Debug().Err(err).Msg("Network error posting to webhook")
		}
		return fmt.Errorf("failed to post to webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}
