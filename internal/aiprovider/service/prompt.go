package service

import (
	"fmt"
	"strings"

	aidomain "github.com/smallbiznis/reviewdesk/internal/aiprovider/domain"
)

var formalityScale = map[int]string{
	1: "very casual, relaxed and conversational",
	2: "casual and friendly",
	3: "balanced, approachable but polished",
	4: "professional and courteous",
	5: "very formal and polished",
}

// FormalityDescription maps a 1..5 formality level onto its fixed wording.
// Out of range levels clamp to the nearest end; zero means balanced.
func FormalityDescription(level int) string {
	switch {
	case level == 0:
		level = 3
	case level < 1:
		level = 1
	case level > 5:
		level = 5
	}
	return formalityScale[level]
}

var languageNames = map[string]string{
	"en": "English",
	"es": "Spanish",
	"fr": "French",
	"de": "German",
	"it": "Italian",
	"pt": "Portuguese",
	"nl": "Dutch",
	"id": "Indonesian",
	"ja": "Japanese",
}

func languageName(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return languageNames["en"]
	}
	if name, ok := languageNames[code]; ok {
		return name
	}
	return code
}

const replySystemPrompt = `You write public replies to customer reviews on behalf of a business.
Reply as the business, never as an AI. Do not invent facts, offers or policies.
Address the specific points the reviewer raised. Return only the reply text, without quotes or preamble.`

// BuildReplyPrompt renders a deterministic prompt for one review.
func BuildReplyPrompt(req aidomain.GenerateRequest, maxLength, maxSamples int) aidomain.Prompt {
	voice := req.Voice
	language := req.Language
	if language == "" {
		language = voice.Language
	}

	tone := strings.TrimSpace(voice.Tone)
	if req.ToneOverride != nil && !req.ToneOverride.IsDefault() {
		tone = string(*req.ToneOverride)
	}
	if tone == "" {
		tone = aidomain.DefaultBrandVoice().Tone
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Write the reply in %s.\n", languageName(language))
	fmt.Fprintf(&b, "Tone: %s.\n", tone)
	fmt.Fprintf(&b, "Formality: %s.\n", FormalityDescription(voice.Formality))

	if phrases := nonEmpty(voice.KeyPhrases); len(phrases) > 0 {
		fmt.Fprintf(&b, "Use at least one or two of these key phrases naturally: %s.\n", strings.Join(phrases, "; "))
	}
	if notes := strings.TrimSpace(voice.StyleNotes); notes != "" {
		fmt.Fprintf(&b, "Style notes: %s\n", notes)
	}
	if samples := nonEmpty(voice.SampleResponses); len(samples) > 0 && maxSamples > 0 {
		if len(samples) > maxSamples {
			samples = samples[:maxSamples]
		}
		b.WriteString("Match the style of these earlier replies:\n")
		for i, sample := range samples {
			fmt.Fprintf(&b, "%d. %s\n", i+1, sample)
		}
	}

	b.WriteString("\nReview details:\n")
	if platform := strings.TrimSpace(req.Platform); platform != "" {
		fmt.Fprintf(&b, "Platform: %s\n", platform)
	}
	if req.Rating != nil {
		fmt.Fprintf(&b, "Rating: %d out of 5\n", *req.Rating)
	}
	if name := strings.TrimSpace(req.ReviewerName); name != "" {
		fmt.Fprintf(&b, "Reviewer: %s\n", name)
	}
	fmt.Fprintf(&b, "Review: %s\n", strings.TrimSpace(req.ReviewText))
	if maxLength > 0 {
		fmt.Fprintf(&b, "\nKeep the reply under %d characters.", maxLength)
	}

	return aidomain.Prompt{
		System:    replySystemPrompt,
		User:      b.String(),
		MaxTokens: replyMaxTokens(maxLength),
	}
}

const classifySystemPrompt = `You classify the sentiment of customer reviews.
Output JSON only, no other text:
{"sentiment": "positive" | "neutral" | "negative", "confidence": number between 0 and 1}`

func BuildClassifyPrompt(text string) aidomain.Prompt {
	return aidomain.Prompt{
		System:    classifySystemPrompt,
		User:      "Review: " + strings.TrimSpace(text),
		MaxTokens: 64,
	}
}

// replyMaxTokens leaves headroom over the character limit; roughly four
// characters per token.
func replyMaxTokens(maxLength int) int64 {
	if maxLength <= 0 {
		return 1024
	}
	tokens := int64(maxLength/4) * 2
	if tokens < 256 {
		tokens = 256
	}
	return tokens
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
