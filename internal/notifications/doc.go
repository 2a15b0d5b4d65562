// Package notifications announces analyzed articles on an external channel.
//
// A Channel sends one formatted Message and does no deduplication of its
// own. The Stage provides the at-most-once behaviour: it checks the state
// store for an existing NotificationRecord before sending and persists one
// only after the channel reports success.
//
// If the send succeeds but persisting the record fails, the retry runs with
// resumed set. Channels that also implement Confirmer (ntfy) are asked
// whether the message already landed before anything is resent. Discord and
// Telegram offer no lookup, so that window can produce one duplicate post.
package notifications
