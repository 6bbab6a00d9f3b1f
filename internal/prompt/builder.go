package prompt

import (
	"fmt"
	"strings"
)

// Separator joins the instruction (and any augmentation) to the user text.
const Separator = ":\n"

// Tags are the chat markers wrapped around each prompt segment.
type Tags struct {
	System    string
	User      string
	Assistant string
	End       string
}

// Phi3 is the Phi-3 chat format.
var Phi3 = Tags{
	System:    "<|system|>",
	User:      "<|user|>",
	Assistant: "<|assistant|>",
	End:       "<|end|>",
}

// StopMarkers returns the markers that signal the model has left the assistant turn.
func (t Tags) StopMarkers() []string {
	return []string{t.End, t.User, t.System}
}

// Segments are the source texts of one prompt before assembly.
type Segments struct {
	System      string
	Instruction string
	User        string
}

// Placement selects where augmentation text is written.
type Placement int

const (
	// PlaceUser writes the augmentation between the instruction and the user text.
	PlaceUser Placement = iota
	// PlaceSystem appends the augmentation to the system segment.
	PlaceSystem
)

func (p Placement) String() string {
	if p == PlaceSystem {
		return "system"
	}
	return "user"
}

// ParsePlacement accepts "user" (or empty) and "system".
func ParsePlacement(v string) (Placement, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "user":
		return PlaceUser, nil
	case "system":
		return PlaceSystem, nil
	default:
		return PlaceUser, fmt.Errorf("prompt: unknown augmentation placement %q", v)
	}
}

// Builder assembles tagged prompt text. Its placement is fixed at construction.
type Builder struct {
	tags      Tags
	placement Placement
	table     Table
}

// Option configures a Builder.
type Option func(*Builder)

// WithTags overrides the chat markers.
func WithTags(tags Tags) Option {
	return func(b *Builder) { b.tags = tags }
}

// WithPlacement sets where augmentation is written.
func WithPlacement(p Placement) Option {
	return func(b *Builder) { b.placement = p }
}

// WithTable replaces the direction templates.
func WithTable(t Table) Option {
	return func(b *Builder) { b.table = t }
}

// NewBuilder returns a Builder using the Phi-3 tags, user placement and the
// default direction table unless overridden.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{tags: Phi3, placement: PlaceUser, table: DefaultTable()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Tags returns the builder's chat markers.
func (b *Builder) Tags() Tags { return b.tags }

// Placement returns the builder's augmentation placement.
func (b *Builder) Placement() Placement { return b.placement }

// Template returns the template for dir.
func (b *Builder) Template(dir Direction) Template { return b.table[dir] }

// Segments fills the direction's system and instruction around text.
func (b *Builder) Segments(dir Direction, text string) Segments {
	tpl := b.table[dir]
	return Segments{System: tpl.System, Instruction: tpl.Instruction, User: text}
}

// Build assembles a translation prompt for dir. An empty augmentation leaves
// no trace in the output, including the label.
func (b *Builder) Build(dir Direction, seg Segments, augmentation string) string {
	system := seg.System
	lead := seg.Instruction

	if augmentation != "" {
		section := b.table[dir].AugmentationLabel + "\n" + augmentation
		if b.placement == PlaceSystem {
			if system != "" {
				system += "\n"
			}
			system += section
		} else {
			lead += section
		}
	}

	user := lead
	if lead != "" && seg.User != "" {
		user += Separator
	}
	user += seg.User

	return b.assemble(system, user)
}

// BuildPrimary assembles the prompt for the primary answer: no instruction, no augmentation.
func (b *Builder) BuildPrimary(seg Segments) string {
	return b.assemble(seg.System, seg.User)
}

func (b *Builder) assemble(system, user string) string {
	var sb strings.Builder
	sb.Grow(len(system) + len(user) + 48)
	sb.WriteString(b.tags.System)
	sb.WriteString(system)
	sb.WriteString(b.tags.End)
	sb.WriteString(b.tags.User)
	sb.WriteString(user)
	sb.WriteString(b.tags.End)
	sb.WriteString(b.tags.Assistant)
	return sb.String()
}

// LastUserSegment extracts the text of the final user turn from an assembled
// prompt. It returns "" when the prompt has no user turn.
func (t Tags) LastUserSegment(assembled string) string {
	i := strings.LastIndex(assembled, t.User)
	if i < 0 {
		return ""
	}
	rest := assembled[i+len(t.User):]
	if j := strings.Index(rest, t.End); j >= 0 {
		rest = rest[:j]
	}
	return rest
}
