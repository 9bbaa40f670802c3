// Package kv is a small replicated key/value StateMachine used by the
// demo server and by the simulation/test harness to exercise
// pkg/raft end to end.
package kv

import (
	"bytes"
	"encoding/gob"
)

// CommandType distinguishes the operations a client can submit.
type CommandType int

const (
	CommandSet CommandType = iota
	CommandDelete
	CommandGet
)

// Command is the gob-encoded payload carried by raft.LogEntry.Operation
// for EntryApply entries, and by RunOperation for reads. Grounded on
// teacher pkg/kv/store.go's Command struct, with ClientID/RequestID
// kept for the same at-most-once dedup purpose.
type Command struct {
	Type      CommandType
	Key       string
	Value     []byte
	ClientID  string
	RequestID uint64
}

// EncodeCommand gob-encodes cmd for submission via Group.Submit or
// Group.Query.
func EncodeCommand(cmd Command) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(cmd); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeCommand(data []byte) (Command, error) {
	var cmd Command
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&cmd)
	return cmd, err
}

// Result is the gob-encoded payload returned from Apply/RunOperation.
type Result struct {
	Found bool
	Value []byte
	Err   string
}

func encodeResult(r Result) []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(r)
	return buf.Bytes()
}

// DecodeResult decodes a Result previously produced by encodeResult.
func DecodeResult(data []byte) (Result, error) {
	var r Result
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&r)
	return r, err
}
