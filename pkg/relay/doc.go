// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package relay implements the coordination engine of a Mattermost-IRC relay.
//
// A single Mattermost channel is bridged with one or more IRC-style channels.
// Each side is represented by an adapter: one [Platform] for Mattermost and
// one [Network] per configured IRC network. Adapters own their sessions and
// reconnect on their own; the [Coordinator] only sees their connection flags.
//
// # Core Types
//
// [Coordinator] holds the adapter set and applies the forwarding rules:
// Mattermost posts are broadcast to every connected network, IRC messages are
// posted to Mattermost under the sender's nick (annotated with the network
// address when more than one network is configured), and announcements are
// forwarded unmodified to both sides.
//
// [Health] owns the process-wide counters. They only ever grow. A
// [HealthSnapshot] is derived on demand from the counters and the adapters'
// connection flags.
//
// [RelayMessage] is the normalized inbound message. It lives only for the
// duration of the forwarding call that consumes it; nothing is queued.
//
// # Failure Isolation
//
// A send failure on one network never prevents the sends to the others, and
// a session fault inside one network's goroutine never reaches another
// goroutine. Every dropped message is logged and counted, nothing more.
package relay
