// Package protocol implements the line-oriented, pipe-delimited text
// framing exchanged over WebSocket text frames: one command per frame,
// first token is the verb, remaining tokens are verb-specific.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownVerb is returned when the first token of a frame is not one
// of the recognized inbound verbs.
var ErrUnknownVerb = errors.New("protocol: unknown verb")

// ErrMissingArg is returned when a verb that requires an argument was
// sent without one.
var ErrMissingArg = errors.New("protocol: missing argument")

// Verb identifies the kind of a parsed Command.
type Verb string

const (
	VerbInit   Verb = "init"
	VerbChat   Verb = "chat"
	VerbSteps  Verb = "steps"
	VerbUpdate Verb = "update"
	VerbWebRTC Verb = "webrtc"
	VerbClose  Verb = "close"
)

// Command is one parsed inbound frame. Only the fields relevant to Verb
// are populated; JSON payloads are left as raw strings. Decoding them
// into domain types is the caller's job, not the codec's.
type Command struct {
	Verb Verb

	// init
	Name string

	// chat
	Text string

	// steps
	Version int
	StepsJSON string

	// update
	UpdateJSON string

	// webrtc
	ReceiverID uint64
	SignalJSON string
}

// splitArg splits s once on the first '|', returning the head and,
// if present, the remainder (everything after the delimiter, which may
// itself contain '|'; chat text and JSON payloads are allowed to).
func splitArg(s string) (head string, rest string, hasRest bool) {
	i := strings.IndexByte(s, '|')
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+1:], true
}

// Parse parses one inbound text frame into a Command.
func Parse(line string) (Command, error) {
	head, rest, hasRest := splitArg(line)
	verb := Verb(head)

	switch verb {
	case VerbInit:
		cmd := Command{Verb: VerbInit}
		if hasRest {
			cmd.Name = rest
		}
		return cmd, nil

	case VerbChat:
		if !hasRest {
			return Command{}, fmt.Errorf("%w: chat requires text", ErrMissingArg)
		}
		return Command{Verb: VerbChat, Text: rest}, nil

	case VerbSteps:
		if !hasRest {
			return Command{}, fmt.Errorf("%w: steps requires version|json", ErrMissingArg)
		}
		versionStr, stepsJSON, hasSteps := splitArg(rest)
		if !hasSteps {
			return Command{}, fmt.Errorf("%w: steps requires version|json", ErrMissingArg)
		}
		version, err := strconv.Atoi(versionStr)
		if err != nil {
			return Command{}, fmt.Errorf("protocol: invalid steps version %q: %w", versionStr, err)
		}
		return Command{Verb: VerbSteps, Version: version, StepsJSON: stepsJSON}, nil

	case VerbUpdate:
		if !hasRest {
			return Command{}, fmt.Errorf("%w: update requires json", ErrMissingArg)
		}
		return Command{Verb: VerbUpdate, UpdateJSON: rest}, nil

	case VerbWebRTC:
		if !hasRest {
			return Command{}, fmt.Errorf("%w: webrtc requires receiver-id|json", ErrMissingArg)
		}
		idStr, payload, hasPayload := splitArg(rest)
		if !hasPayload {
			return Command{}, fmt.Errorf("%w: webrtc requires receiver-id|json", ErrMissingArg)
		}
		id, err := strconv.ParseUint(idStr, 10, 64)
		if err != nil {
			return Command{}, fmt.Errorf("protocol: invalid webrtc receiver id %q: %w", idStr, err)
		}
		return Command{Verb: VerbWebRTC, ReceiverID: id, SignalJSON: payload}, nil

	case VerbClose:
		return Command{Verb: VerbClose}, nil

	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownVerb, head)
	}
}
