// Package ids defines the identifier types shared between the lobby and
// channel actor packages, breaking what would otherwise be an import
// cycle between them.
package ids

// UserID is unique within a single channel; it resets whenever a
// channel is created and is allocated by the lobby's per-channel
// counter.
type UserID uint64

// ChannelID is unique within the process; it is internal-only and never
// serialized to clients.
type ChannelID uint64
