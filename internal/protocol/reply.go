package protocol

import (
	"worknode/internal/content"
)

type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusComplete   Status = "COMPLETE"
	StatusError      Status = "ERROR"
)

// Terminal reports whether no further replies may follow s.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// Reply answers a Request. For one request id the sequence is zero or more
// IN_PROGRESS replies followed by exactly one COMPLETE or ERROR.
type Reply interface {
	Message
	Header() *ReplyHeader
}

type ReplyHeader struct {
	RequestID    string               `json:"request_id"`
	Status       Status               `json:"status"`
	Progress     *float64             `json:"progress,omitempty"`
	Results      []content.WorkResult `json:"results,omitempty"`
	StatusDetail string               `json:"status_detail,omitempty"`
}

func (h *ReplyHeader) Header() *ReplyHeader { return h }

type HashReply struct {
	ReplyHeader
	Algorithm string `json:"hash_algorithm,omitempty"`
}

func (*HashReply) MessageType() string { return TypeHashReply }

// Digests maps each source URI to its hex digest.
func (r *HashReply) Digests() map[string]string {
	out := make(map[string]string, len(r.Results))
	for _, res := range r.Results {
		if h, ok := res.Details[DetailHash].(string); ok {
			out[res.Reference.Key()] = h
		}
	}
	return out
}

type TransformationReply struct {
	ReplyHeader
}

func (*TransformationReply) MessageType() string { return TypeTransformationReply }

// Keys used in WorkResult.Details.
const (
	DetailHash      = "hash"
	DetailAlgorithm = "algorithm"
	DetailByteSize  = "byte_size"
	DetailWidth     = "width"
	DetailHeight    = "height"
	DetailMediaType = "media_type"
	DetailTool      = "tool"
)

// Started is the IN_PROGRESS reply acknowledging acceptance of req.
func Started(req Request) Reply {
	return req.NewReply(StatusInProgress)
}

// InProgress reports fractional completion of req.
func InProgress(req Request, progress float64) Reply {
	r := req.NewReply(StatusInProgress)
	r.Header().Progress = &progress
	return r
}

// Complete is the successful terminal reply.
func Complete(req Request, results []content.WorkResult) Reply {
	r := req.NewReply(StatusComplete)
	done := 1.0
	r.Header().Progress = &done
	r.Header().Results = results
	return r
}

// Failed is the error terminal reply.
func Failed(req Request, detail string) Reply {
	r := req.NewReply(StatusError)
	r.Header().StatusDetail = detail
	return r
}
