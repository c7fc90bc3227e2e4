package models

import (
	"fmt"
	"sort"
)

// StageOutput is the last committed output of one stage.
type StageOutput struct {
	Stage    string            `json:"stage"`
	Content  string            `json:"content"`
	Fields   map[string]string `json:"fields,omitempty"`
	Lineage  []LineageRef      `json:"lineage,omitempty"`
	Degraded bool              `json:"degraded,omitempty"`
	// Reason is set when Degraded is true.
	Reason string `json:"reason,omitempty"`
}

// LineageRef links a stage output back to the external record that informed it.
type LineageRef struct {
	Stage  string `json:"stage"`
	Source string `json:"source"`
	ID     string `json:"id"`
}

// RunState is threaded through every stage of one run.
//
// RunID, Subject and AsOfDate never change after NewRunState. Cursor is the number of
// committed stage groups, which is also the index of the next group to run.
type RunState struct {
	RunID    string `json:"run_id"`
	Subject  string `json:"subject"`
	AsOfDate string `json:"as_of_date"`

	Outputs   map[string]StageOutput   `json:"outputs"`
	Cursor    int                      `json:"cursor"`
	Committed []string                 `json:"committed"`
	Debates   map[string]*DebateRecord `json:"debates"`
	Lineage   []LineageRef             `json:"lineage,omitempty"`
	Decision  *Decision                `json:"decision,omitempty"`
}

func NewRunState(runID, subject, asOfDate string) *RunState {
	return &RunState{
		RunID:     runID,
		Subject:   subject,
		AsOfDate:  asOfDate,
		Outputs:   map[string]StageOutput{},
		Committed: []string{},
		Debates:   map[string]*DebateRecord{},
	}
}

// RunIdentity derives the default run identity for a subject and date.
func RunIdentity(subject, asOfDate string) string {
	return fmt.Sprintf("%s:%s", subject, asOfDate)
}

func (s *RunState) Output(stage string) (StageOutput, bool) {
	out, ok := s.Outputs[stage]
	return out, ok
}

// SetOutput commits a stage output and folds its lineage into the run lineage.
func (s *RunState) SetOutput(out StageOutput) {
	if s.Outputs == nil {
		s.Outputs = map[string]StageOutput{}
	}
	s.Outputs[out.Stage] = out
	s.Lineage = append(s.Lineage, out.Lineage...)
}

// Debate returns the record of a segment, creating it on first use.
func (s *RunState) Debate(segment string, participants []string) *DebateRecord {
	if s.Debates == nil {
		s.Debates = map[string]*DebateRecord{}
	}
	rec, ok := s.Debates[segment]
	if !ok {
		rec = NewDebateRecord(segment, participants)
		s.Debates[segment] = rec
	}
	return rec
}

// Degraded lists the stages whose committed output is degraded, sorted by name.
func (s *RunState) Degraded() []string {
	var stages []string
	for name, out := range s.Outputs {
		if out.Degraded {
			stages = append(stages, name)
		}
	}
	sort.Strings(stages)
	return stages
}

// Commit records a finished stage group and advances the cursor.
func (s *RunState) Commit(group string) {
	s.Committed = append(s.Committed, group)
	s.Cursor = len(s.Committed)
}

// Clone returns a deep copy, so views handed to stages cannot mutate the run.
func (s *RunState) Clone() *RunState {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Outputs = make(map[string]StageOutput, len(s.Outputs))
	for k, v := range s.Outputs {
		if v.Fields != nil {
			fields := make(map[string]string, len(v.Fields))
			for fk, fv := range v.Fields {
				fields[fk] = fv
			}
			v.Fields = fields
		}
		v.Lineage = append([]LineageRef(nil), v.Lineage...)
		cp.Outputs[k] = v
	}
	cp.Committed = append([]string{}, s.Committed...)
	cp.Debates = make(map[string]*DebateRecord, len(s.Debates))
	for k, v := range s.Debates {
		cp.Debates[k] = v.Clone()
	}
	cp.Lineage = append([]LineageRef(nil), s.Lineage...)
	if s.Decision != nil {
		d := *s.Decision
		cp.Decision = &d
	}
	return &cp
}
