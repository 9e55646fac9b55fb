package shard

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestWriteReconstructRoundTrip(t *testing.T) {
	const base = "kvnode.snapshot"
	data := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog\n"), 200)
	layout := Layout{DataShards: 4, ParityShards: 2}

	dir := t.TempDir()
	if err := Write(dir, base, layout, data); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Reconstruct(dir, base)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("Reconstruct returned %d bytes, want %d matching the original", len(got), len(data))
	}
}

func TestReconstructToleratesMissingParityShards(t *testing.T) {
	const base = "kvnode.snapshot"
	data := bytes.Repeat([]byte("replicated state\n"), 500)
	layout := Layout{DataShards: 4, ParityShards: 2}

	dir := t.TempDir()
	if err := Write(dir, base, layout, data); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// drop both parity shards; reconstruction must still succeed from the
	// data shards alone.
	for i := layout.DataShards; i < layout.total(); i++ {
		if err := os.Remove(shardPath(dir, base, i)); err != nil {
			t.Fatalf("Remove parity shard %d: %v", i, err)
		}
	}

	got, err := Reconstruct(dir, base)
	if err != nil {
		t.Fatalf("Reconstruct without parity shards: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("Reconstruct returned mismatched data after dropping parity shards")
	}
}

func TestReconstructFailsWithTooFewShards(t *testing.T) {
	const base = "kvnode.snapshot"
	data := bytes.Repeat([]byte("x"), 1000)
	layout := Layout{DataShards: 4, ParityShards: 2}

	dir := t.TempDir()
	if err := Write(dir, base, layout, data); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// drop 3 of the 6 total shards (more than ParityShards can recover).
	for i := 0; i < 3; i++ {
		if err := os.Remove(shardPath(dir, base, i)); err != nil {
			t.Fatalf("Remove shard %d: %v", i, err)
		}
	}

	if _, err := Reconstruct(dir, base); err == nil {
		t.Fatalf("Reconstruct succeeded despite losing more shards than ParityShards allows")
	}
}

func TestShardFilesNamedUnderDir(t *testing.T) {
	dir := t.TempDir()
	const base = "snap"
	if err := Write(dir, base, Layout{DataShards: 2, ParityShards: 1}, []byte("abc")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, base+".MANIFEST")); err != nil {
		t.Fatalf("manifest missing: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := os.Stat(filepath.Join(dir, base+".shard"+strconv.Itoa(i))); err != nil {
			t.Fatalf("shard %d missing: %v", i, err)
		}
	}
}
