package graph

import "fmt"

type GroupKind int

const (
	// KindSequential runs exactly one stage.
	KindSequential GroupKind = iota
	// KindFanOut runs independent stages concurrently and commits them together.
	KindFanOut
	// KindDebate runs a turn-based segment scheduled by a debate coordinator.
	KindDebate
)

func (k GroupKind) String() string {
	switch k {
	case KindSequential:
		return "sequential"
	case KindFanOut:
		return "fan_out"
	case KindDebate:
		return "debate"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Group is the unit between two checkpoints.
type Group struct {
	Name   string
	Kind   GroupKind
	Stages []string
	// Segment names the debate record of a debate group.
	Segment string
}

func Sequential(name, stage string) Group {
	return Group{Name: name, Kind: KindSequential, Stages: []string{stage}}
}

func FanOut(name string, stages ...string) Group {
	return Group{Name: name, Kind: KindFanOut, Stages: stages}
}

// Debate declares a segment whose participants speak in the given order.
func Debate(name, segment string, participants ...string) Group {
	return Group{Name: name, Kind: KindDebate, Stages: participants, Segment: segment}
}

// FinalStage is the stage whose output carries the decision when g is last.
func (g Group) FinalStage() string {
	if len(g.Stages) == 0 {
		return ""
	}
	return g.Stages[len(g.Stages)-1]
}

func (g Group) validate() error {
	if g.Name == "" {
		return fmt.Errorf("group without a name")
	}
	switch g.Kind {
	case KindSequential:
		if len(g.Stages) != 1 {
			return fmt.Errorf("sequential group %s must have exactly one stage", g.Name)
		}
	case KindFanOut:
		if len(g.Stages) == 0 {
			return fmt.Errorf("fan-out group %s has no stages", g.Name)
		}
	case KindDebate:
		if len(g.Stages) < 2 {
			return fmt.Errorf("debate group %s needs at least two participants", g.Name)
		}
		if g.Segment == "" {
			return fmt.Errorf("debate group %s has no segment", g.Name)
		}
	default:
		return fmt.Errorf("group %s has unknown kind %v", g.Name, g.Kind)
	}
	return nil
}
