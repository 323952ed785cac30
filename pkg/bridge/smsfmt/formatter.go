// Copyright 2025-2026 Rasmus Ahtava

// Package smsfmt renders bridged-message notifications into the SMS wire
// format. The 157-character cap is a hard delivery constraint; budgeting is
// by character (rune), never by byte, so multi-byte text is never cut
// mid-codepoint.
package smsfmt

// MaxLength is the hard cap on a rendered SMS body, in characters.
const MaxLength = 157

// maxSenderLength caps the kept portion of the sender name.
const maxSenderLength = 30

const ellipsis = "..."

// Trim renders "{Service} from {sender}: {content}" within MaxLength
// characters. The sender keeps at most 30 characters (plus a trailing
// ellipsis when cut); whatever budget remains after the prefix and sender
// goes to the content, ellipsis-truncated when cut. Input that already fits
// is returned as the exact untruncated concatenation.
func Trim(service, sender, content string) string {
	senderRunes := []rune(sender)
	if len(senderRunes) > maxSenderLength {
		sender = string(senderRunes[:maxSenderLength]) + ellipsis
	}
	head := service + " from " + sender + ": "

	budget := MaxLength - len([]rune(head))
	if budget < 0 {
		budget = 0
	}
	contentRunes := []rune(content)
	if len(contentRunes) > budget {
		keep := budget - len(ellipsis)
		if keep < 0 {
			keep = 0
		}
		content = string(contentRunes[:keep]) + ellipsis
	}

	out := head + content
	if outRunes := []rune(out); len(outRunes) > MaxLength {
		out = string(outRunes[:MaxLength])
	}
	return out
}
