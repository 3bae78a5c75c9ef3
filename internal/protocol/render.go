package protocol

import "strconv"

// The outbound rendering functions each produce exactly one text frame.
// They take pre-encoded JSON strings for payloads, matching the split
// between this package (framing) and the document/domain model
// (payload shape).

func RenderInit(userID uint64, stateJSON string) string {
	return "init|" + strconv.FormatUint(userID, 10) + "|" + stateJSON
}

func RenderPeers(rosterJSON string) string {
	return "peers|" + rosterJSON
}

func RenderNewUser(userID uint64, memberJSON string) string {
	return "new-user|" + strconv.FormatUint(userID, 10) + "|" + memberJSON
}

func RenderUserLeft(userID uint64) string {
	return "user-left|" + strconv.FormatUint(userID, 10)
}

func RenderUpdate(userID uint64, fieldsJSON string) string {
	return "update|" + strconv.FormatUint(userID, 10) + "|" + fieldsJSON
}

func RenderSteps(stepsJSON string) string {
	return "steps|" + stepsJSON
}

func RenderChat(userID uint64, text string) string {
	return "chat|" + strconv.FormatUint(userID, 10) + "|" + text
}

func RenderWebRTC(userID uint64, payloadJSON string) string {
	return "webrtc|" + strconv.FormatUint(userID, 10) + "|" + payloadJSON
}

func RenderFolder(diag string) string {
	return "folder|" + diag
}

func RenderError(diag string) string {
	return "error|" + diag
}
