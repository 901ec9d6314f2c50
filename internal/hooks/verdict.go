package hooks

// Kind tags a Verdict.
type Kind int

const (
	KindAllow Kind = iota
	KindBlock
	KindCancel
	KindRedact
	KindAnnotate
)

func (k Kind) String() string {
	switch k {
	case KindAllow:
		return "allow"
	case KindBlock:
		return "block"
	case KindCancel:
		return "cancel"
	case KindRedact:
		return "redact"
	case KindAnnotate:
		return "annotate"
	default:
		return "unknown"
	}
}

// Verdict is the outcome of one check on one event. Handlers return nil for
// "no opinion".
type Verdict struct {
	Kind       Kind
	Reason     string
	Content    string
	MatchCount int
	Context    string
}

// Allow is an explicit pass.
func Allow() *Verdict { return &Verdict{Kind: KindAllow} }

// Block stops a tool call.
func Block(reason string) *Verdict { return &Verdict{Kind: KindBlock, Reason: reason} }

// Cancel stops an outbound message.
func Cancel(reason string) *Verdict { return &Verdict{Kind: KindCancel, Reason: reason} }

// Redact replaces outbound content.
func Redact(content string, matchCount int) *Verdict {
	return &Verdict{Kind: KindRedact, Content: content, MatchCount: matchCount}
}

// Annotate prepends text to the agent context.
func Annotate(text string) *Verdict { return &Verdict{Kind: KindAnnotate, Context: text} }

// Stops reports whether the verdict ends evaluation for the event.
func (v *Verdict) Stops() bool {
	return v != nil && (v.Kind == KindBlock || v.Kind == KindCancel)
}

// Result is the combined outcome of dispatching one event, in the shape the
// host expects back.
type Result struct {
	Block          bool    `json:"block,omitempty"`
	BlockReason    string  `json:"blockReason,omitempty"`
	Cancel         bool    `json:"cancel,omitempty"`
	CancelReason   string  `json:"cancelReason,omitempty"`
	Content        *string `json:"content,omitempty"`
	PrependContext string  `json:"prependContext,omitempty"`

	// DecidedBy names the handler that blocked or cancelled.
	DecidedBy string `json:"decidedBy,omitempty"`
}

// Empty reports whether no handler expressed an opinion.
func (r Result) Empty() bool {
	return !r.Block && !r.Cancel && r.Content == nil && r.PrependContext == ""
}
