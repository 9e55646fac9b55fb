// Package shard implements optional erasure-coded sharding of the snapshot
// file (SPEC_FULL.md DOMAIN STACK), so a snapshot survives the loss of up
// to ParityShards shard files/directories without needing the append-only
// log to reconstruct state. This is strictly a belt-and-suspenders backup
// of the primary snapshot file; the primary file (persist.Snapshotter) is
// always written and always tried first on load.
/*
 * Copyright (c) 2024-2026, kvnode contributors. All rights reserved.
 */
package shard

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/klauspost/reedsolomon"
	"github.com/pkg/errors"
)

const manifestName = "MANIFEST"

// Layout describes the erasure-coding shape.
type Layout struct {
	DataShards   int
	ParityShards int
}

func (l Layout) total() int { return l.DataShards + l.ParityShards }

// Write splits data into l.DataShards data shards plus l.ParityShards
// parity shards under dir/base.shard<N>, alongside a manifest recording
// data's original length (needed to trim padding on reconstruction).
func Write(dir, base string, l Layout, data []byte) error {
	enc, err := reedsolomon.New(l.DataShards, l.ParityShards)
	if err != nil {
		return errors.Wrap(err, "build reedsolomon encoder")
	}
	shards, err := enc.Split(data)
	if err != nil {
		return errors.Wrap(err, "split into shards")
	}
	if err := enc.Encode(shards); err != nil {
		return errors.Wrap(err, "encode parity shards")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "make shard directory")
	}
	for i, s := range shards {
		path := shardPath(dir, base, i)
		if err := os.WriteFile(path, s, 0o644); err != nil {
			return errors.Wrapf(err, "write shard %d", i)
		}
	}
	manifest := fmt.Sprintf("%d %d %d\n", l.DataShards, l.ParityShards, len(data))
	return errors.Wrap(os.WriteFile(filepath.Join(dir, base+"."+manifestName), []byte(manifest), 0o644), "write shard manifest")
}

// Reconstruct reads base's manifest and whatever shard files remain under
// dir, recovering the original bytes if at least DataShards of them
// survived (in any mix of data/parity shards).
func Reconstruct(dir, base string) ([]byte, error) {
	manifestBytes, err := os.ReadFile(filepath.Join(dir, base+"."+manifestName))
	if err != nil {
		return nil, errors.Wrap(err, "read shard manifest")
	}
	var l Layout
	var origLen int
	if _, err := fmt.Sscanf(string(manifestBytes), "%d %d %d", &l.DataShards, &l.ParityShards, &origLen); err != nil {
		return nil, errors.Wrap(err, "parse shard manifest")
	}

	present := make(map[int][]byte, l.total())
	err = godirwalk.Walk(dir, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			idx, ok := shardIndex(filepath.Base(path), base)
			if !ok {
				return nil
			}
			b, rerr := os.ReadFile(path)
			if rerr != nil {
				return nil // missing/unreadable shard just stays absent
			}
			present[idx] = b
			return nil
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "walk shard directory")
	}

	shards := make([][]byte, l.total())
	for i := range shards {
		shards[i] = present[i] // nil for missing shards, which is what reedsolomon expects
	}
	enc, err := reedsolomon.New(l.DataShards, l.ParityShards)
	if err != nil {
		return nil, errors.Wrap(err, "build reedsolomon encoder")
	}
	if err := enc.Reconstruct(shards); err != nil {
		return nil, errors.Wrap(err, "reconstruct shards")
	}
	buf := make([]byte, 0, origLen)
	for i := 0; i < l.DataShards; i++ {
		buf = append(buf, shards[i]...)
	}
	if len(buf) < origLen {
		return nil, errors.New("reconstructed data shorter than manifest length")
	}
	return buf[:origLen], nil
}

func shardPath(dir, base string, i int) string {
	return filepath.Join(dir, fmt.Sprintf("%s.shard%d", base, i))
}

func shardIndex(name, base string) (int, bool) {
	prefix := base + ".shard"
	if !strings.HasPrefix(name, prefix) {
		return 0, false
	}
	idx, err := strconv.Atoi(strings.TrimPrefix(name, prefix))
	if err != nil {
		return 0, false
	}
	return idx, true
}
