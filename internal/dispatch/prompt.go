package dispatch

import (
	"fmt"
	"strings"

	"github.com/pablodelmoral/gritoncall/internal/coaching"
	"github.com/pablodelmoral/gritoncall/internal/telephony"
)

const RecordCommitmentFunction = "record_commitment"

// Call-control parameters sent with every assistant.
const (
	serverTimeoutSeconds         = 20
	silenceTimeoutSeconds        = 30
	responseDelaySeconds         = 0.4
	llmRequestDelaySeconds       = 0.1
	numWordsToInterruptAssistant = 2
	backgroundSound              = "off"
	defaultVoiceProvider         = "11labs"
)

var endCallPhrases = []string{"goodbye", "talk later", "bye", "see you"}

// AssistantSettings are the deployment-level assistant parameters.
type AssistantSettings struct {
	ServerURL   string
	Model       string
	Temperature float64
}

// ComposePrompt builds the full system prompt for one call. flavor may be empty.
func ComposePrompt(coach coaching.CoachProfile, activity coaching.DailyActivity, flavor string) string {
	var b strings.Builder
	b.WriteString(coach.SystemPrompt)
	if flavor != "" {
		b.WriteString("\n\n## Today's Flavor\n")
		b.WriteString(flavor)
	}

	desc := strings.TrimSpace(activity.Description)
	if desc == "" {
		desc = "No additional details"
	}
	fmt.Fprintf(&b, "\n\n## Today's Context\nUser committed to: \"%s\"\nDescription: %s", activity.Title, desc)

	b.WriteString("\n\n## Your Task\n")
	b.WriteString("1. Check in on their progress with today's activity\n")
	b.WriteString("2. Provide accountability in your coaching style\n")
	b.WriteString("3. Get their commitment for tomorrow\n")
	b.WriteString("4. Rate their confidence level (1-10)\n")
	b.WriteString("5. End the call naturally\n")
	fmt.Fprintf(&b, "\nKeep the call under %d minutes.", coach.MaxCallMinutes())
	return b.String()
}

// RecordCommitmentContract is the structured-output function every assistant exposes.
func RecordCommitmentContract() telephony.FunctionContract {
	return telephony.FunctionContract{
		Name:        RecordCommitmentFunction,
		Description: "Record the user's commitment for tomorrow and their confidence level",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"commitment": map[string]any{
					"type":        "string",
					"description": "What the user commits to doing tomorrow",
				},
				"confidence": map[string]any{
					"type":        "integer",
					"minimum":     1,
					"maximum":     10,
					"description": "User's confidence level (1-10)",
				},
				"completed_today": map[string]any{
					"type":        "boolean",
					"description": "Whether user completed today's activity",
				},
			},
			"required": []string{"commitment", "confidence", "completed_today"},
		},
	}
}

// BuildAssistantRequest maps a coach profile and composed prompt to a provider request.
// Voice overrides come from the coach's voice configuration.
func BuildAssistantRequest(s AssistantSettings, coach coaching.CoachProfile, prompt string) telephony.AssistantRequest {
	provider := coach.Voice.Provider
	if provider == "" {
		provider = defaultVoiceProvider
	}
	return telephony.AssistantRequest{
		Name:                 "Grit Coach - " + coach.DisplayName,
		ServerURL:            s.ServerURL,
		ServerTimeoutSeconds: serverTimeoutSeconds,
		Model:                s.Model,
		Temperature:          s.Temperature,
		SystemPrompt:         prompt,
		Functions:            []telephony.FunctionContract{RecordCommitmentContract()},
		Voice: telephony.Voice{
			Provider:        provider,
			VoiceID:         coach.Voice.VoiceID,
			Model:           coach.Voice.Model,
			Stability:       coach.Voice.Stability,
			SimilarityBoost: coach.Voice.SimilarityBoost,
		},
		FirstMessage:                 coach.FirstMessage,
		EndCallMessage:               coach.EndMessage,
		EndCallPhrases:               append([]string(nil), endCallPhrases...),
		MaxDurationSeconds:           coach.MaxCallDurationSeconds,
		SilenceTimeoutSeconds:        silenceTimeoutSeconds,
		ResponseDelaySeconds:         responseDelaySeconds,
		LLMRequestDelaySeconds:       llmRequestDelaySeconds,
		NumWordsToInterruptAssistant: numWordsToInterruptAssistant,
		BackgroundSound:              backgroundSound,
	}
}
