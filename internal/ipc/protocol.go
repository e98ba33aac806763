package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Request is one newline-delimited command sent to the daemon. Args carries
// the command's JSON arguments, if any.
type Request struct {
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// Response answers one Request. Data carries the command's JSON result.
type Response struct {
	OK      bool            `json:"ok"`
	State   string          `json:"state,omitempty"`
	Message string          `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NewRequest builds a request, encoding args when non-nil.
func NewRequest(command string, args any) (Request, error) {
	req := Request{Command: command}
	if args == nil {
		return req, nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return Request{}, fmt.Errorf("encode %s args: %w", command, err)
	}
	req.Args = raw
	return req, nil
}

// DecodeArgs unmarshals the request arguments into v. Missing args leave v
// untouched.
func (r Request) DecodeArgs(v any) error {
	if len(r.Args) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Args, v); err != nil {
		return fmt.Errorf("decode %s args: %w", r.Command, err)
	}
	return nil
}

// DecodeData unmarshals the response payload into v.
func (r Response) DecodeData(v any) error {
	if len(r.Data) == 0 {
		return errors.New("response has no data")
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

// Failure builds an error response.
func Failure(err error) Response {
	return Response{OK: false, Error: err.Error()}
}

// Success builds an OK response carrying data, which may be nil.
func Success(state string, data any) Response {
	resp := Response{OK: true, State: state}
	if data == nil {
		return resp
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Failure(fmt.Errorf("encode response data: %w", err))
	}
	resp.Data = raw
	return resp
}
