package domain

// DirectiveKind tells which variant of a Directive is active.
type DirectiveKind string

const (
	DirectivePlain    DirectiveKind = "plain"
	DirectiveSingle   DirectiveKind = "single"
	DirectiveCombined DirectiveKind = "combined"
)

// TagKind is the namespace of a bracketed tag.
type TagKind string

const (
	TagTool   TagKind = "TOOL"
	TagSearch TagKind = "SEARCH"
	TagMode   TagKind = "MODE"
)

// Known tag names.
const (
	ToolResearch    = "Research"
	TagNameSocratic = "Socratic"

	SearchImages = "Images"
	SearchVideos = "Videos"
	SearchBoth   = "Both"
)

// SingleTag is one parsed [KIND:Name] token plus its query.
type SingleTag struct {
	Kind  TagKind
	Name  string
	Query string
}

// String renders the tag in wire form, without the query.
func (t SingleTag) String() string {
	return "[" + string(t.Kind) + ":" + t.Name + "]"
}

// Directive is the parsed intent of one submission. Exactly one of the
// variants is active, selected by Kind.
type Directive struct {
	Kind DirectiveKind

	// Text is the full original input; it is what a PlainMessage sends.
	Text string

	// Single is set when Kind == DirectiveSingle.
	Single SingleTag

	// Primary is the tool/search half and Secondary the mode half of a
	// combined directive. Query is shared by both.
	Primary   SingleTag
	Secondary SingleTag
	Query     string
}

func PlainMessage(text string) Directive {
	return Directive{Kind: DirectivePlain, Text: text}
}

func Single(tag SingleTag, text string) Directive {
	return Directive{Kind: DirectiveSingle, Text: text, Single: tag, Query: tag.Query}
}

func Combined(primary, secondary SingleTag, query, text string) Directive {
	return Directive{
		Kind:      DirectiveCombined,
		Text:      text,
		Primary:   primary,
		Secondary: secondary,
		Query:     query,
	}
}

// Label is a short name for logs and metrics.
func (d Directive) Label() string {
	switch d.Kind {
	case DirectiveSingle:
		return string(d.Kind) + ":" + d.Single.Name
	case DirectiveCombined:
		return string(d.Kind) + ":" + d.Primary.Name + "+" + d.Secondary.Name
	default:
		return string(DirectivePlain)
	}
}
