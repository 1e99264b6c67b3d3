// Package analytics provides pure functions computing speech metrics from
// finalized transcript segments.
package analytics

import (
	"strings"

	"salescoach-server/pkg/model"
)

// fillerWords is the fixed list counted by FillerWordCounts.
var fillerWords = []string{
	"um", "uh", "like", "you know", "basically",
	"actually", "literally", "right", "so", "well",
}

// TalkRatio computes per-role shares of total speaking time. When no time has
// been recorded both ratios are 0, never NaN.
func TalkRatio(segments []model.TranscriptSegment) model.TalkRatio {
	var agentTime, counterpartyTime float64

	for _, s := range segments {
		switch s.Speaker {
		case model.SpeakerAgent:
			agentTime += s.Duration()
		case model.SpeakerCounterparty:
			counterpartyTime += s.Duration()
		}
	}

	total := agentTime + counterpartyTime
	if total == 0 {
		return model.TalkRatio{}
	}

	return model.TalkRatio{
		Agent:               agentTime / total,
		Counterparty:        counterpartyTime / total,
		AgentSeconds:        agentTime,
		CounterpartySeconds: counterpartyTime,
	}
}

// WordsPerMinute computes the speaking rate for one role. Returns 0 when the
// role has no recorded speaking time.
func WordsPerMinute(segments []model.TranscriptSegment, speaker model.Speaker) float64 {
	var totalWords int
	var totalTime float64

	for _, s := range segments {
		if s.Speaker != speaker {
			continue
		}
		totalWords += len(strings.Fields(s.Text))
		totalTime += s.Duration()
	}

	if totalTime == 0 {
		return 0
	}

	return float64(totalWords) / totalTime * 60
}

// FillerWordCounts counts case-insensitive occurrences of known filler words
// in the given text. Words with zero occurrences are omitted.
func FillerWordCounts(text string) map[string]int {
	lower := strings.ToLower(text)
	counts := make(map[string]int)

	for _, filler := range fillerWords {
		if n := strings.Count(lower, filler); n > 0 {
			counts[filler] = n
		}
	}

	return counts
}

// QuestionCount counts question marks in the text. A deliberately simple
// heuristic, not sentence segmentation.
func QuestionCount(text string) int {
	return strings.Count(text, "?")
}

// ConcatText joins the text of all final segments, used as input for the
// text-level metrics.
func ConcatText(segments []model.TranscriptSegment) string {
	var b strings.Builder
	for i, s := range segments {
		if !s.IsFinal {
			continue
		}
		if i > 0 && b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(s.Text)
	}
	return b.String()
}

// ConcatTextForSpeaker joins the text of all final segments spoken by one role.
func ConcatTextForSpeaker(segments []model.TranscriptSegment, speaker model.Speaker) string {
	var b strings.Builder
	for _, s := range segments {
		if !s.IsFinal || s.Speaker != speaker {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(s.Text)
	}
	return b.String()
}
