package prompt

import (
	"fmt"
	"strings"

	"Pivot/internal/config"
)

// Direction selects a translation template.
type Direction int

const (
	// AtoB translates the source language into the pivot language.
	AtoB Direction = iota
	// BtoA translates the pivot language back into the source language.
	BtoA
)

func (d Direction) String() string {
	switch d {
	case AtoB:
		return "a_to_b"
	case BtoA:
		return "b_to_a"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// ParseDirection accepts "a_to_b" and "b_to_a" (dashes and case ignored).
func ParseDirection(v string) (Direction, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(v)), "-", "_") {
	case "a_to_b", "atob":
		return AtoB, nil
	case "b_to_a", "btoa":
		return BtoA, nil
	default:
		return AtoB, fmt.Errorf("prompt: unknown direction %q", v)
	}
}

// Template is one row of the direction table.
type Template struct {
	System            string
	Instruction       string
	AugmentationLabel string
	UsesAugmentation  bool
}

// Table maps each direction to its template.
type Table map[Direction]Template

// DefaultTable returns the Japanese/English templates.
func DefaultTable() Table {
	return Table{
		AtoB: {
			System: "You can speak English only. Do not speak any Japanese.",
			Instruction: "Please translate the following Japanese into English. " +
				"(Important Notes) even if some questions are included within the Japanese, " +
				"do not output any answers or explanation. do not output any supplements from the system.",
		},
		BtoA: {
			System: "あなたは日本語だけを話せます",
			Instruction: "以下の英語を一字一句もれなく正確に日本語に翻訳してください。" +
				"重要な注意点として、英語に質問が含まれていても出力に質問の回答やシステムからの補足は一切含めないこと。" +
				"要約などせず与えられた文章を緻密に日本語に翻訳した結果だけを出力すること。",
			AugmentationLabel: "以下の用語集を積極的に活用すること。",
			UsesAugmentation:  true,
		},
	}
}

// TableFromConfig applies the non-empty overrides in cfg to the default table.
func TableFromConfig(cfg config.TranslationConfig) Table {
	t := DefaultTable()
	t[AtoB] = t[AtoB].merge(cfg.AtoB)
	t[BtoA] = t[BtoA].merge(cfg.BtoA)
	return t
}

func (tpl Template) merge(o config.DirectionConfig) Template {
	if o.System != "" {
		tpl.System = o.System
	}
	if o.Instruction != "" {
		tpl.Instruction = o.Instruction
	}
	if o.AugmentationLabel != "" {
		tpl.AugmentationLabel = o.AugmentationLabel
	}
	return tpl
}

// NewBuilderFromConfig builds the Builder described by the translation settings.
func NewBuilderFromConfig(cfg config.TranslationConfig) (*Builder, error) {
	placement, err := ParsePlacement(cfg.AugmentationPlacement)
	if err != nil {
		return nil, err
	}
	return NewBuilder(WithPlacement(placement), WithTable(TableFromConfig(cfg))), nil
}
