package stt

import (
	"sync"

	"salescoach-server/pkg/model"
)

// SpeakerResolver maps recognizer diarization channels to call roles.
//
// The heuristic: the first distinct channel observed is the agent (the
// agent opens the call), the second is the counterparty, and any further
// channels resolve to unknown. Calibrate overrides the mapping for a
// channel, for clients that know which side a channel carries.
type SpeakerResolver struct {
	mu       sync.Mutex
	assigned map[int]model.Speaker
	order    []int
}

// NewSpeakerResolver returns a resolver with no channels assigned.
func NewSpeakerResolver() *SpeakerResolver {
	return &SpeakerResolver{
		assigned: make(map[int]model.Speaker),
	}
}

// Resolve returns the role for a diarization channel, assigning one on
// first sight.
func (r *SpeakerResolver) Resolve(channel int) model.Speaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if speaker, ok := r.assigned[channel]; ok {
		return speaker
	}

	var speaker model.Speaker
	switch len(r.order) {
	case 0:
		speaker = model.SpeakerAgent
	case 1:
		speaker = model.SpeakerCounterparty
	default:
		speaker = model.SpeakerUnknown
	}

	r.assigned[channel] = speaker
	r.order = append(r.order, channel)
	return speaker
}

// Calibrate pins a channel to a role, overriding any prior assignment.
func (r *SpeakerResolver) Calibrate(channel int, speaker model.Speaker) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, seen := r.assigned[channel]; !seen {
		r.order = append(r.order, channel)
	}
	r.assigned[channel] = speaker
}
