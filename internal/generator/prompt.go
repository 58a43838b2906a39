package generator

import (
	"fmt"
	"strings"
)

// EmergencyKeywords trigger the canned emergency reply without calling
// the model.
var EmergencyKeywords = []string{
	"severe pain", "bleeding", "swollen", "emergency", "accident",
	"broken tooth", "knocked out", "unbearable", "can't eat",
	"can't sleep", "infection", "abscess",
}

// EmergencyResponse is returned verbatim when an emergency is detected.
const EmergencyResponse = `⚠️ IMPORTANT: Based on your message, this may require immediate attention. Please contact the clinic directly at your earliest convenience. If this is a dental emergency (severe pain, bleeding, or trauma), please call our emergency line or visit the nearest emergency dental clinic immediately.

For reference, common dental emergencies include:
- Severe, persistent toothache
- Knocked-out tooth
- Broken or chipped tooth with pain
- Severe bleeding that won't stop
- Swelling in the mouth or face
- Abscess or infection

Our clinic staff will be able to provide immediate guidance and schedule an urgent appointment if needed.`

// DetectEmergency reports whether message mentions an emergency keyword.
func DetectEmergency(message string) bool {
	lower := strings.ToLower(message)
	for _, k := range EmergencyKeywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// TruncateNotes cuts notes to max runes and marks the cut with "...".
func TruncateNotes(notes *string, max int) *string {
	if notes == nil {
		return nil
	}
	r := []rune(*notes)
	if max <= 0 || len(r) <= max {
		v := *notes
		return &v
	}
	v := string(r[:max]) + "..."
	return &v
}

// SystemPrompt renders the assistant persona with the patient context.
// notes are expected to be truncated already.
func SystemPrompt(patientName string, notes *string) string {
	n := "No medical notes available"
	if notes != nil && strings.TrimSpace(*notes) != "" {
		n = *notes
	}
	return fmt.Sprintf(`You are a knowledgeable and empathetic dental assistant AI helping clinic staff communicate with patients.

IMPORTANT GUIDELINES:
- Provide professional, concise (2-3 paragraphs max), non-technical responses
- Focus on dental procedures, care instructions, and general dental health questions
- Use simple, patient-friendly language
- Be warm, empathetic, and reassuring
- NEVER diagnose medical conditions or prescribe treatments
- NEVER provide specific medical advice - always defer to the dentist
- For emergencies (severe pain, bleeding, trauma), advise immediate contact with clinic or emergency services
- If unsure, recommend scheduling an appointment with the dentist

PATIENT CONTEXT:
- Patient Name: %s
- Medical Notes: %s

Remember: You are assisting clinic staff in communicating with patients, not replacing professional dental advice.`, patientName, n)
}

// lastN keeps the newest n history items.
func lastN(h []HistoryItem, n int) []HistoryItem {
	if n <= 0 {
		return nil
	}
	if len(h) > n {
		return h[len(h)-n:]
	}
	return h
}
