package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"salescoach-server/pkg/model"
)

func seg(speaker model.Speaker, text string, start, end float64) model.TranscriptSegment {
	return model.TranscriptSegment{
		Text:      text,
		Speaker:   speaker,
		StartTime: start,
		EndTime:   end,
		IsFinal:   true,
	}
}

func TestTalkRatioPartitionsToOne(t *testing.T) {
	segments := []model.TranscriptSegment{
		seg(model.SpeakerAgent, "hello there", 0, 3),
		seg(model.SpeakerCounterparty, "hi", 3, 4),
		seg(model.SpeakerAgent, "how are you", 4, 6),
	}

	ratio := TalkRatio(segments)

	assert.InDelta(t, 1.0, ratio.Agent+ratio.Counterparty, 1e-9)
	assert.InDelta(t, 5.0, ratio.AgentSeconds, 1e-9)
	assert.InDelta(t, 1.0, ratio.CounterpartySeconds, 1e-9)
	assert.InDelta(t, 5.0/6.0, ratio.Agent, 1e-9)
}

func TestTalkRatioZeroTime(t *testing.T) {
	ratio := TalkRatio(nil)
	assert.Equal(t, model.TalkRatio{}, ratio)

	// Zero-length segments also yield zero ratios, not NaN.
	ratio = TalkRatio([]model.TranscriptSegment{
		seg(model.SpeakerAgent, "hm", 5, 5),
	})
	assert.Equal(t, 0.0, ratio.Agent)
	assert.Equal(t, 0.0, ratio.Counterparty)
}

func TestTalkRatioIgnoresUnknownSpeaker(t *testing.T) {
	segments := []model.TranscriptSegment{
		seg(model.SpeakerAgent, "a", 0, 2),
		seg(model.SpeakerUnknown, "background noise", 2, 10),
		seg(model.SpeakerCounterparty, "b", 10, 12),
	}

	ratio := TalkRatio(segments)
	assert.InDelta(t, 0.5, ratio.Agent, 1e-9)
	assert.InDelta(t, 0.5, ratio.Counterparty, 1e-9)
}

func TestWordsPerMinute(t *testing.T) {
	segments := []model.TranscriptSegment{
		seg(model.SpeakerAgent, "one two three four five six", 0, 3),
		seg(model.SpeakerCounterparty, "quick reply", 3, 4),
		seg(model.SpeakerAgent, "seven eight", 4, 5),
	}

	// 8 agent words over 4 seconds = 120 wpm.
	assert.InDelta(t, 120.0, WordsPerMinute(segments, model.SpeakerAgent), 1e-9)
	assert.InDelta(t, 120.0, WordsPerMinute(segments, model.SpeakerCounterparty), 1e-9)
}

func TestWordsPerMinuteZeroTime(t *testing.T) {
	assert.Equal(t, 0.0, WordsPerMinute(nil, model.SpeakerAgent))

	segments := []model.TranscriptSegment{
		seg(model.SpeakerAgent, "instant", 2, 2),
	}
	assert.Equal(t, 0.0, WordsPerMinute(segments, model.SpeakerAgent))
}

func TestFillerWordCounts(t *testing.T) {
	counts := FillerWordCounts("Um, so I was like, you know, actually thinking")

	assert.Equal(t, 1, counts["um"])
	assert.Equal(t, 1, counts["like"])
	assert.Equal(t, 1, counts["you know"])
	assert.Equal(t, 1, counts["actually"])
	_, present := counts["literally"]
	assert.False(t, present)
}

func TestFillerWordCountsEmpty(t *testing.T) {
	assert.Empty(t, FillerWordCounts(""))
}

func TestQuestionCount(t *testing.T) {
	assert.Equal(t, 2, QuestionCount("What? Really? Yes."))
	assert.Equal(t, 0, QuestionCount("No questions here."))
}

func TestConcatTextSkipsInterim(t *testing.T) {
	segments := []model.TranscriptSegment{
		seg(model.SpeakerAgent, "final one", 0, 1),
		{Text: "interim", Speaker: model.SpeakerAgent, IsFinal: false},
		seg(model.SpeakerCounterparty, "final two", 1, 2),
	}

	assert.Equal(t, "final one final two", ConcatText(segments))
	assert.Equal(t, "final two", ConcatTextForSpeaker(segments, model.SpeakerCounterparty))
}
