package sdk

import "encoding/json"

// ResponseKind discriminates the outbound response variants. Response
// kinds are uniquely discriminated by Kind; a host encountering an
// unrecognized kind treats it as ResponseKindNone for forward
// compatibility (see UnmarshalJSON below).
type ResponseKind string

const (
	ResponseKindReply      ResponseKind = "reply"
	ResponseKindEdit       ResponseKind = "edit"
	ResponseKindNone       ResponseKind = "none"
	ResponseKindError      ResponseKind = "error"
	ResponseKindPhoto      ResponseKind = "photo"
	ResponseKindDelete     ResponseKind = "delete"
	ResponseKindAudio      ResponseKind = "audio"
	ResponseKindVideo      ResponseKind = "video"
	ResponseKindDocument   ResponseKind = "document"
	ResponseKindLocation   ResponseKind = "location"
	ResponseKindContact    ResponseKind = "contact"
	ResponseKindUI         ResponseKind = "ui"
	ResponseKindPubkyWrite ResponseKind = "pubky_write"
)

var knownResponseKinds = map[ResponseKind]bool{
	ResponseKindReply: true, ResponseKindEdit: true, ResponseKindNone: true,
	ResponseKindError: true, ResponseKindPhoto: true, ResponseKindDelete: true,
	ResponseKindAudio: true, ResponseKindVideo: true, ResponseKindDocument: true,
	ResponseKindLocation: true, ResponseKindContact: true, ResponseKindUI: true,
	ResponseKindPubkyWrite: true,
}

// Options carries the adapter-facing knobs that ride along on most
// response kinds: platform markup plus the cross-cutting replace/cleanup
// group names. The core never interprets these beyond passing them
// through — that is adapter territory.
type Options struct {
	ReplyMarkup  json.RawMessage `json:"reply_markup,omitempty"`
	ReplaceGroup string          `json:"replaceGroup,omitempty"`
	CleanupGroup string          `json:"cleanupGroup,omitempty"`
}

// StateOp discriminates the state-directive variants.
type StateOp string

const (
	StateOpClear   StateOp = "clear"
	StateOpReplace StateOp = "replace"
	StateOpMerge   StateOp = "merge"
)

// StateDirective instructs the state store how to mutate
// (chatID,userID,serviceID) flow state after a sandbox invocation returns.
type StateDirective struct {
	Op    StateOp         `json:"op"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Response is the payload a service writes to stdout. Fields not relevant
// to Kind are left zero/omitted; unknown fields encountered while decoding
// a response are silently ignored by the standard json decoder, preserving
// forward compatibility.
type Response struct {
	Kind ResponseKind `json:"kind"`

	// reply, edit
	Text    string   `json:"text,omitempty"`
	Options *Options `json:"options,omitempty"`

	// delete
	FallbackText string `json:"fallbackText,omitempty"`

	// photo, audio, video, document
	URL      string          `json:"url,omitempty"`
	Caption  string          `json:"caption,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`

	// location
	Lat     float64 `json:"lat,omitempty"`
	Lng     float64 `json:"lng,omitempty"`
	Title   string  `json:"title,omitempty"`
	Address string  `json:"address,omitempty"`

	// contact
	Phone     string `json:"phone,omitempty"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`

	// ui
	UIType string          `json:"uiType,omitempty"`
	UI     json.RawMessage `json:"ui,omitempty"`

	// pubky_write
	Path              string          `json:"path,omitempty"`
	Data              json.RawMessage `json:"data,omitempty"`
	Preview           string          `json:"preview,omitempty"`
	OnApprovalMessage string          `json:"onApprovalMessage,omitempty"`

	// error
	Message string `json:"message,omitempty"`

	// common to any kind
	State         *StateDirective `json:"state,omitempty"`
	DeleteTrigger bool            `json:"deleteTrigger,omitempty"`
	TTL           int             `json:"ttl,omitempty"` // seconds
}

// UnmarshalJSON decodes a Response, mapping any Kind this build does not
// recognize to ResponseKindNone so an older host tolerates responses from
// a newer SDK schema.
func (r *Response) UnmarshalJSON(data []byte) error {
	type alias Response
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*r = Response(a)
	if !knownResponseKinds[r.Kind] {
		r.Kind = ResponseKindNone
	}
	return nil
}

// ErrorResponse builds a synthetic {kind:"error"} response, used by the
// dispatcher when an invocation cannot be completed (timeout, crash, bad
// output reported by the sandbox host, or a missing bundle).
func ErrorResponse(message string) Response {
	return Response{Kind: ResponseKindError, Message: message}
}
