// Package lattice holds the ordered workflow stages that every status
// transition is classified against.
package lattice

import (
	"fmt"
	"strings"
	"sync"
)

type Classification string

const (
	ClassNormal  Classification = "normal"
	ClassRevert  Classification = "revert"
	ClassBypass  Classification = "bypass"
	ClassUnknown Classification = "unknown"
)

type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities lists every severity from least to most urgent.
var Severities = []Severity{SeverityNone, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

type Stage struct {
	Name    string
	Rank    int
	Aliases []string
}

// Lattice is immutable once built; share it freely.
type Lattice struct {
	stages    []Stage
	ranks     map[string]int
	positions map[string]int
	canonical map[string]string
}

// Transition is the outcome of classifying one status change.
type Transition struct {
	Classification Classification `json:"classification"`
	Severity       Severity       `json:"severity"`
	Distance       int            `json:"distance"`
}

var defaultStages = []Stage{
	{Name: "Pole Permission: Pending", Rank: 1},
	{Name: "Pole Permission: Approved", Rank: 2},
	{Name: "Home Sign Ups: Pending", Rank: 3},
	{Name: "Home Sign Ups: Approved", Rank: 4},
	{Name: "Home Sign Ups: Approved & Installation Scheduled", Rank: 5},
	{Name: "Home Installation: In Progress", Rank: 6},
	{Name: "Home Installation: Installed", Rank: 7},
	{Name: "Home Installation: Complete", Rank: 8, Aliases: []string{"Home Installation: Completed"}},
}

var defaultLattice = sync.OnceValue(func() *Lattice {
	l, err := New(defaultStages)
	if err != nil {
		panic(fmt.Sprintf("default lattice: %v", err))
	}
	return l
})

// Default returns the field-installation workflow.
func Default() *Lattice {
	return defaultLattice()
}

func New(stages []Stage) (*Lattice, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("lattice needs at least one stage")
	}

	l := &Lattice{
		stages:    make([]Stage, 0, len(stages)),
		ranks:     make(map[string]int),
		positions: make(map[string]int),
		canonical: make(map[string]string),
	}

	for i, stage := range stages {
		name := strings.TrimSpace(stage.Name)
		if name == "" {
			return nil, fmt.Errorf("stage %d name is required", i)
		}
		if i > 0 && stage.Rank <= stages[i-1].Rank {
			return nil, fmt.Errorf("stage %q rank %d must be greater than %d", name, stage.Rank, stages[i-1].Rank)
		}

		keys := append([]string{name}, stage.Aliases...)
		for _, key := range keys {
			norm := Normalize(key)
			if norm == "" {
				continue
			}
			if _, exists := l.ranks[norm]; exists {
				return nil, fmt.Errorf("duplicate stage name or alias: %s", key)
			}
			l.ranks[norm] = stage.Rank
			l.positions[norm] = i
			l.canonical[norm] = name
		}

		l.stages = append(l.stages, Stage{
			Name:    name,
			Rank:    stage.Rank,
			Aliases: append([]string(nil), stage.Aliases...),
		})
	}

	return l, nil
}

// Normalize folds case and collapses interior whitespace.
func Normalize(status string) string {
	return strings.ToLower(strings.Join(strings.Fields(status), " "))
}

func (l *Lattice) Rank(status string) (int, bool) {
	if l == nil {
		return 0, false
	}
	rank, ok := l.ranks[Normalize(status)]
	return rank, ok
}

// Canonical maps a status or one of its aliases to the declared stage name.
func (l *Lattice) Canonical(status string) (string, bool) {
	if l == nil {
		return "", false
	}
	name, ok := l.canonical[Normalize(status)]
	return name, ok
}

func (l *Lattice) Contains(status string) bool {
	_, ok := l.Rank(status)
	return ok
}

func (l *Lattice) Stages() []Stage {
	out := make([]Stage, len(l.stages))
	for i, stage := range l.stages {
		out[i] = Stage{Name: stage.Name, Rank: stage.Rank, Aliases: append([]string(nil), stage.Aliases...)}
	}
	return out
}

func (l *Lattice) position(status string) (int, bool) {
	if l == nil {
		return 0, false
	}
	pos, ok := l.positions[Normalize(status)]
	return pos, ok
}

// Classify compares an existing status with an incoming one. Distance counts
// stages, so gaps between configured ranks do not inflate it. Any status the
// lattice does not rank yields ClassUnknown.
func (l *Lattice) Classify(from, to string) Transition {
	fromRank, okFrom := l.position(from)
	toRank, okTo := l.position(to)
	if !okFrom || !okTo {
		return Transition{Classification: ClassUnknown, Severity: SeverityNone}
	}

	switch {
	case toRank < fromRank:
		distance := fromRank - toRank
		return Transition{Classification: ClassRevert, Severity: SeverityForDistance(distance), Distance: distance}
	case toRank > fromRank+1:
		distance := toRank - fromRank
		// severity counts the skipped stages, not the jump itself
		return Transition{Classification: ClassBypass, Severity: SeverityForDistance(distance - 1), Distance: distance}
	default:
		return Transition{Classification: ClassNormal, Severity: SeverityNone, Distance: toRank - fromRank}
	}
}

// Observe classifies the first sighting of a record.
func (l *Lattice) Observe(status string) Transition {
	if l.Contains(status) {
		return Transition{Classification: ClassNormal, Severity: SeverityNone}
	}
	return Transition{Classification: ClassUnknown, Severity: SeverityNone}
}

func SeverityForDistance(distance int) Severity {
	switch {
	case distance <= 0:
		return SeverityNone
	case distance == 1:
		return SeverityLow
	case distance == 2:
		return SeverityMedium
	case distance == 3:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}
