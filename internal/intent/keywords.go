package intent

import "strings"

type keywordSet struct {
	intent  Intent
	phrases []string
}

// Matching is done against " "+normalized+" ", and each phrase is looked up
// as " "+phrase. A phrase therefore anchors at a word start; a trailing
// space in the table makes it a whole word ("no " does not match "now").
// Order is the tie-break order.
var keywordTable = []keywordSet{
	{RescheduleAppointment, []string{"reschedule", "rescheduling", "move my", "change my appointment", "change the time", "different time", "different day", "postpone", "push back"}},
	{CancelAppointment, []string{"cancel", "call off", "remove my appointment", "delete my appointment", "not coming"}},
	{ViewAppointments, []string{"my appointments", "show my", "list my", "view", "upcoming", "when is my", "what appointments"}},
	{BookAppointment, []string{"book", "schedule", "new appointment", "an appointment", "make appointment", "see the dentist", "checkup", "check up", "cleaning", "toothache"}},
	{Confirm, []string{"yes ", "yeah ", "yep ", "confirm", "sure ", "ok ", "okay ", "sounds good", "correct ", "that works"}},
	{Deny, []string{"no ", "nope ", "nah ", "don t", "do not", "never mind", "not now"}},
	{Help, []string{"help", "what can you do", "options", "how does this work"}},
	{Greeting, []string{"hi ", "hello", "hey ", "good morning", "good afternoon", "good evening"}},
}

// normalize lower-cases and folds everything that is not a letter or digit to
// a single space.
func normalize(text string) string {
	var b strings.Builder
	space := true
	for _, r := range strings.ToLower(text) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r > 127 {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// scoreKeywords returns the best-scoring intent and its phrase count. A zero
// score means nothing matched.
func scoreKeywords(text string) (Intent, int) {
	padded := " " + normalize(text) + " "
	if strings.TrimSpace(padded) == "" {
		return "", 0
	}
	var best Intent
	bestScore := 0
	for _, set := range keywordTable {
		score := 0
		for _, phrase := range set.phrases {
			if strings.Contains(padded, " "+phrase) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = set.intent, score
		}
	}
	return best, bestScore
}

func keywordConfidence(score int) float64 {
	c := 0.5 + 0.1*float64(score)
	if c > 0.9 {
		c = 0.9
	}
	return c
}
