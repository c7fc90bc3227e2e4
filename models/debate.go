package models

import "fmt"

// Turn is one utterance in a debate transcript.
type Turn struct {
	Speaker string `json:"speaker"`
	Content string `json:"content"`
}

// ConvergenceSignal is recomputed after every turn and only stored with its record.
type ConvergenceSignal struct {
	Stopped bool   `json:"stopped"`
	Reason  string `json:"reason,omitempty"`
}

// DebateRecord holds the transcript of one debate segment. The transcript is the only
// copy of what was said; per-speaker histories are filtered views of it.
type DebateRecord struct {
	Segment      string            `json:"segment"`
	Participants []string          `json:"participants"`
	Transcript   []Turn            `json:"transcript"`
	TurnCount    int               `json:"turn_count"`
	Signal       ConvergenceSignal `json:"signal"`
}

func NewDebateRecord(segment string, participants []string) *DebateRecord {
	return &DebateRecord{
		Segment:      segment,
		Participants: append([]string(nil), participants...),
		Transcript:   []Turn{},
	}
}

// SpeakerAt returns the participant scheduled for turn n.
func (d *DebateRecord) SpeakerAt(n int) string {
	if len(d.Participants) == 0 {
		return ""
	}
	return d.Participants[n%len(d.Participants)]
}

// Append adds the next turn. The speaker must be the one the round-robin schedules.
func (d *DebateRecord) Append(turn Turn) error {
	want := d.SpeakerAt(d.TurnCount)
	if turn.Speaker != want {
		return fmt.Errorf("debate %s: turn %d belongs to %q, got %q", d.Segment, d.TurnCount, want, turn.Speaker)
	}
	d.Transcript = append(d.Transcript, turn)
	d.TurnCount = len(d.Transcript)
	return nil
}

// SpeakerTranscript returns the turns of one speaker, in order.
func (d *DebateRecord) SpeakerTranscript(speaker string) []Turn {
	var turns []Turn
	for _, t := range d.Transcript {
		if t.Speaker == speaker {
			turns = append(turns, t)
		}
	}
	return turns
}

// Last returns the most recent turn.
func (d *DebateRecord) Last() (Turn, bool) {
	if len(d.Transcript) == 0 {
		return Turn{}, false
	}
	return d.Transcript[len(d.Transcript)-1], true
}

// History renders the transcript as "Speaker: content" lines.
func (d *DebateRecord) History() string {
	out := ""
	for i, t := range d.Transcript {
		if i > 0 {
			out += "\n"
		}
		out += t.Speaker + ": " + t.Content
	}
	return out
}

func (d *DebateRecord) Clone() *DebateRecord {
	if d == nil {
		return nil
	}
	cp := *d
	cp.Participants = append([]string(nil), d.Participants...)
	cp.Transcript = append([]Turn{}, d.Transcript...)
	return &cp
}
