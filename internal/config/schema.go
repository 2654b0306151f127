package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind is the value domain of a registration attribute.
type Kind string

const (
	// KindText accepts any non-empty text.
	KindText Kind = "text"
	// KindChoice accepts one of Options.
	KindChoice Kind = "choice"
	// KindNumber accepts an integer in [Min, Max]. RejectBelow turns it into
	// a gate (e.g. minimum age).
	KindNumber Kind = "number"
	// KindConsent accepts only Accept; any other answer rejects the user.
	KindConsent Kind = "consent"
)

// Verdict is the outcome of checking one answer against its attribute.
type Verdict int

const (
	// Valid answers advance the registration.
	Valid Verdict = iota
	// Invalid answers re-prompt without advancing.
	Invalid
	// Rejected answers end the registration attempt.
	Rejected
)

// Attribute declares one registration step.
type Attribute struct {
	Key     string   `yaml:"key"`
	Prompt  string   `yaml:"prompt"`
	Kind    Kind     `yaml:"kind"`
	Options []string `yaml:"options"`

	// Layout splits Options into keyboard rows (e.g. [2, 1]). Empty means
	// one button per row.
	Layout []int `yaml:"layout"`

	Min         int `yaml:"min"`
	Max         int `yaml:"max"`
	RejectBelow int `yaml:"reject_below"`

	Accept string `yaml:"accept"`

	// Invalid is sent before re-prompting on an invalid answer.
	Invalid string `yaml:"invalid"`
	// Rejection is sent when a gate rejects the user.
	Rejection string `yaml:"rejection"`
}

func (a Attribute) validate() error {
	if a.Key == "" {
		return errors.New("key is required")
	}
	if a.Prompt == "" {
		return fmt.Errorf("%s: prompt is required", a.Key)
	}
	switch a.Kind {
	case KindText:
	case KindChoice:
		if len(a.Options) == 0 {
			return fmt.Errorf("%s: choice attribute needs options", a.Key)
		}
	case KindNumber:
		if a.Max != 0 && a.Max < a.Min {
			return fmt.Errorf("%s: max %d is below min %d", a.Key, a.Max, a.Min)
		}
	case KindConsent:
		if a.Accept == "" {
			return fmt.Errorf("%s: consent attribute needs an accept token", a.Key)
		}
	default:
		return fmt.Errorf("%s: unknown kind %q", a.Key, a.Kind)
	}

	total := 0
	for _, n := range a.Layout {
		if n <= 0 {
			return fmt.Errorf("%s: layout rows must be positive", a.Key)
		}
		total += n
	}
	if len(a.Layout) > 0 && total != len(a.Options) {
		return fmt.Errorf("%s: layout covers %d options, have %d", a.Key, total, len(a.Options))
	}
	return nil
}

// Check validates a raw answer and returns the normalized value with a verdict.
func (a Attribute) Check(answer string) (string, Verdict) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", Invalid
	}

	switch a.Kind {
	case KindChoice:
		for _, opt := range a.Options {
			if strings.EqualFold(opt, answer) {
				return opt, Valid
			}
		}
		return "", Invalid

	case KindNumber:
		n, err := strconv.Atoi(answer)
		if err != nil {
			return "", Invalid
		}
		if a.RejectBelow > 0 && n < a.RejectBelow {
			return strconv.Itoa(n), Rejected
		}
		if n < a.Min || (a.Max != 0 && n > a.Max) {
			return "", Invalid
		}
		return strconv.Itoa(n), Valid

	case KindConsent:
		if answer == a.Accept {
			return answer, Valid
		}
		return "", Rejected

	default:
		return answer, Valid
	}
}

// Rows lays Options out as keyboard rows according to Layout.
func (a Attribute) Rows() [][]string {
	if len(a.Options) == 0 {
		return nil
	}
	if len(a.Layout) == 0 {
		rows := make([][]string, 0, len(a.Options))
		for _, opt := range a.Options {
			rows = append(rows, []string{opt})
		}
		return rows
	}

	rows := make([][]string, 0, len(a.Layout))
	i := 0
	for _, n := range a.Layout {
		rows = append(rows, a.Options[i:i+n])
		i += n
	}
	return rows
}
