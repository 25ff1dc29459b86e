package dispatch

import (
	"strings"
	"testing"

	"github.com/pablodelmoral/gritoncall/internal/coaching"
)

func TestComposePrompt_Layout(t *testing.T) {
	coach := coaching.CoachProfile{SystemPrompt: "You are Marcus.", MaxCallDurationSeconds: 330}
	activity := coaching.DailyActivity{Title: "Walk 10 minutes", Description: "After lunch"}

	got := ComposePrompt(coach, activity, "Today, focus on equanimity.")
	want := "You are Marcus." +
		"\n\n## Today's Flavor\nToday, focus on equanimity." +
		"\n\n## Today's Context\nUser committed to: \"Walk 10 minutes\"\nDescription: After lunch" +
		"\n\n## Your Task\n" +
		"1. Check in on their progress with today's activity\n" +
		"2. Provide accountability in your coaching style\n" +
		"3. Get their commitment for tomorrow\n" +
		"4. Rate their confidence level (1-10)\n" +
		"5. End the call naturally\n" +
		"\nKeep the call under 5 minutes."
	if got != want {
		t.Fatalf("unexpected prompt:\n%s\n---\nwant:\n%s", got, want)
	}
}

func TestComposePrompt_NoFlavorNoDescription(t *testing.T) {
	got := ComposePrompt(coaching.CoachProfile{SystemPrompt: "base", MaxCallDurationSeconds: 300}, coaching.DailyActivity{Title: "Read"}, "")
	if strings.Contains(got, "Today's Flavor") {
		t.Fatalf("expected no flavor section")
	}
	if !strings.Contains(got, "Description: No additional details") {
		t.Fatalf("expected description placeholder, got %q", got)
	}
}

func TestBuildAssistantRequest_VoiceFromCoachData(t *testing.T) {
	stability, boost := 0.5, 0.75
	coach := coaching.CoachProfile{
		Slug:        "drill_sergeant",
		DisplayName: "Sergeant Gockins",
		Voice: coaching.VoiceConfig{
			Provider:        "11labs",
			VoiceID:         "LQboqQKiOAfFvYtOK9H4",
			Model:           "eleven_flash_v2",
			Stability:       &stability,
			SimilarityBoost: &boost,
		},
		FirstMessage:           "Drop and give me an update.",
		EndMessage:             "Dismissed.",
		MaxCallDurationSeconds: 300,
	}

	req := BuildAssistantRequest(AssistantSettings{ServerURL: "https://x.test/hook", Model: "gpt-4o-mini", Temperature: 0.7}, coach, "p")
	if req.Name != "Grit Coach - Sergeant Gockins" {
		t.Fatalf("unexpected name %q", req.Name)
	}
	if req.Voice.VoiceID != "LQboqQKiOAfFvYtOK9H4" || req.Voice.Model != "eleven_flash_v2" || *req.Voice.Stability != 0.5 {
		t.Fatalf("unexpected voice %+v", req.Voice)
	}
	if req.SilenceTimeoutSeconds != 30 || req.BackgroundSound != "off" || req.ServerTimeoutSeconds != 20 {
		t.Fatalf("unexpected call controls %+v", req)
	}
	if len(req.Functions) != 1 || req.Functions[0].Name != RecordCommitmentFunction {
		t.Fatalf("expected record_commitment contract")
	}
	required, _ := req.Functions[0].Parameters["required"].([]string)
	if len(required) != 3 {
		t.Fatalf("expected three required fields, got %v", required)
	}
}

func TestBuildAssistantRequest_DefaultsVoiceProvider(t *testing.T) {
	req := BuildAssistantRequest(AssistantSettings{}, coaching.CoachProfile{Voice: coaching.VoiceConfig{VoiceID: "v"}}, "p")
	if req.Voice.Provider != "11labs" || req.Voice.Model != "" || req.Voice.Stability != nil {
		t.Fatalf("unexpected voice %+v", req.Voice)
	}
}
