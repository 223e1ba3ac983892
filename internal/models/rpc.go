package models

import (
	"encoding/json"
	"fmt"
)

// RPCRequest is a JSON-RPC 2.0 call as the server's web client sends it.
type RPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      string      `json:"id"`
}

// RPCResponse carries either a result or an error.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a server-side exception reported through JSON-RPC.
type RPCError struct {
	Number  int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"data"`
}

func (e *RPCError) Error() string {
	if e.Data.Message != "" {
		return fmt.Sprintf("rpc error %d: %s: %s", e.Number, e.Message, e.Data.Message)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Number, e.Message)
}

// Messages surfaces the server's exception text to the user.
func (e *RPCError) Messages() []string {
	if e.Data.Message != "" {
		return []string{e.Data.Message}
	}
	if e.Message != "" {
		return []string{e.Message}
	}
	return []string{UnknownErrorMessage}
}

// Code returns the structured error code.
func (e *RPCError) Code() string {
	return ErrCodeValidation
}
