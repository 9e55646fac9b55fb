// Package store implements the in-memory keyspace (C1), its TTL table, and
// the command executor (C2) that mutates it. Every exported ...Locked
// method requires the caller to hold the Keyspace's lock (see Lock/Unlock;
// Executor.Dispatch takes it itself) — the
// package deliberately has no internal locking of its own beyond that one
// mutex, so the whole keyspace + TTL table is always serialized behind a
// single acquisition, per the concurrency model.
/*
 * Copyright (c) 2024-2026, kvnode contributors. All rights reserved.
 */
package store

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Kind discriminates the tagged union stored under each key.
type Kind uint8

const (
	KindString Kind = iota
	KindList
)

// Value is the tagged union `String | List` from the data model: exactly
// one of Str/List is meaningful, selected by Kind.
type Value struct {
	Kind Kind     `json:"kind"`
	Str  string   `json:"str,omitempty"`
	List []string `json:"list,omitempty"`
}

func encodeValue(v Value) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "encode value")
	}
	return string(b), nil
}

func decodeValue(raw string) (Value, error) {
	var v Value
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return Value{}, errors.Wrap(err, "decode value")
	}
	return v, nil
}
