package router

import "github.com/soyeahso/supportchat/internal/domain"

// Fixed visitor-facing texts.
const (
	UnavailableReply = "Live chat support is currently unavailable. Please try again later or contact our support team directly."
	TransientReply   = "Sorry, I'm having trouble responding right now. Please try again in a moment."
	InvalidReply     = "Sorry, I couldn't read that message. Please check it and try again."
	ErrorReply       = "Something went wrong on our side. Please try again shortly or contact our support team directly."
	ImageAckReply    = "Thanks for sharing the image! I've added it to your conversation. Could you tell me a little more about what you need help with?"
	VoiceAckReply    = "Thanks for your voice message! I've added it to your conversation. Could you also type a short summary so I can help you faster?"
	FollowUpText     = "Is there anything else I can help you with?"
)

func ackFor(k domain.Kind) string {
	if k == domain.KindVoice {
		return VoiceAckReply
	}
	return ImageAckReply
}
