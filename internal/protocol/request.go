package protocol

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"worknode/internal/content"
)

var ErrInvalidRequest = errors.New("invalid request")

// Request is a unit of work addressed to a worker node.
type Request interface {
	Message
	ID() string
	ReplyDestination() string
	SourceReferences() []content.Reference
	// RetryCount is how many times the request was resubmitted after an
	// ERROR reply.
	RetryCount() int
	// NewReply returns an empty reply of the matching kind, correlated to
	// this request.
	NewReply(status Status) Reply
}

// RequestHeader is shared by all requests. RequestID is assigned once by the
// constructors and is the only correlation key between a request and its
// replies; it must not be reassigned.
type RequestHeader struct {
	RequestID string              `json:"request_id"`
	ReplyTo   string              `json:"reply_to"`
	Sources   []content.Reference `json:"source_content_references"`
	Retries   int                 `json:"retries,omitempty"`
}

func newHeader(replyTo string, sources []content.Reference) RequestHeader {
	return RequestHeader{
		RequestID: uuid.New().String(),
		ReplyTo:   replyTo,
		Sources:   sources,
	}
}

func (h RequestHeader) ID() string                            { return h.RequestID }
func (h RequestHeader) ReplyDestination() string              { return h.ReplyTo }
func (h RequestHeader) SourceReferences() []content.Reference { return h.Sources }
func (h RequestHeader) RetryCount() int                       { return h.Retries }

// HashRequest asks for a digest of every source.
type HashRequest struct {
	RequestHeader
	Algorithm string `json:"hash_algorithm"`
}

func NewHashRequest(replyTo string, sources []content.Reference, algorithm string) *HashRequest {
	return &HashRequest{RequestHeader: newHeader(replyTo, sources), Algorithm: algorithm}
}

func (*HashRequest) MessageType() string { return TypeHashRequest }

func (r *HashRequest) NewReply(status Status) Reply {
	return &HashReply{
		ReplyHeader: ReplyHeader{RequestID: r.RequestID, Status: status},
		Algorithm:   r.Algorithm,
	}
}

// TransformationRequest asks for each source to be transformed into the
// target at the same index.
type TransformationRequest struct {
	RequestHeader
	Targets []content.Reference    `json:"target_content_references"`
	Options *TransformationOptions `json:"options,omitempty"`
}

func NewTransformationRequest(replyTo string, sources, targets []content.Reference, opts *TransformationOptions) *TransformationRequest {
	return &TransformationRequest{
		RequestHeader: newHeader(replyTo, sources),
		Targets:       targets,
		Options:       opts,
	}
}

func (*TransformationRequest) MessageType() string { return TypeTransformationRequest }

func (r *TransformationRequest) NewReply(status Status) Reply {
	return &TransformationReply{ReplyHeader: ReplyHeader{RequestID: r.RequestID, Status: status}}
}

// Validate checks the structural invariants of req.
func Validate(req Request) error {
	if req.ID() == "" {
		return fmt.Errorf("%w: missing request id", ErrInvalidRequest)
	}
	if req.ReplyDestination() == "" {
		return fmt.Errorf("%w: missing reply destination", ErrInvalidRequest)
	}
	sources := req.SourceReferences()
	if len(sources) == 0 {
		return fmt.Errorf("%w: no source content", ErrInvalidRequest)
	}
	for i, s := range sources {
		if s.URI == "" {
			return fmt.Errorf("%w: source %d has no uri", ErrInvalidRequest, i)
		}
	}

	switch r := req.(type) {
	case *HashRequest:
		if r.Algorithm == "" {
			return fmt.Errorf("%w: missing hash algorithm", ErrInvalidRequest)
		}
	case *TransformationRequest:
		if len(r.Targets) != len(sources) {
			return fmt.Errorf("%w: %d targets for %d sources", ErrInvalidRequest, len(r.Targets), len(sources))
		}
		for i, t := range r.Targets {
			if t.URI == "" {
				return fmt.Errorf("%w: target %d has no uri", ErrInvalidRequest, i)
			}
		}
	}
	return nil
}

// Renew returns a copy of req under a fresh request id with its retry count
// incremented. Used to resubmit a failed work item; the original id stays
// terminal.
func Renew(req Request) (Request, error) {
	switch r := req.(type) {
	case *HashRequest:
		c := *r
		c.RequestID = uuid.New().String()
		c.Retries++
		return &c, nil
	case *TransformationRequest:
		c := *r
		c.RequestID = uuid.New().String()
		c.Retries++
		return &c, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedType, req.MessageType())
	}
}
