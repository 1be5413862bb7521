package chat

// ResolveRecipient selects the notification recipient for a message: the
// first participant whose id differs from the sender's.
//
// This matches the one-to-one chat model the app ships with. In a group room
// it picks a single participant and ignores the rest; broadening recipient
// selection means fanning out one payload per recipient and belongs with a
// membership-aware chat service, not here.
//
// ok is false when the participant list is empty, contains only the sender,
// or does not contain the sender at all. A message whose sender is not a
// participant is malformed; notifying anyone from it would be guesswork.
func ResolveRecipient(participants []string, senderID string) (recipientID string, ok bool) {
	senderPresent := false
	for _, id := range participants {
		if id == senderID {
			senderPresent = true
		} else if recipientID == "" {
			recipientID = id
		}
	}
	if !senderPresent || recipientID == "" {
		return "", false
	}
	return recipientID, true
}
