package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRun_MemoryBackends(t *testing.T) {
	assert.NoError(t, run([]string{"-d", "memory", "-s", "memory", "-l", "error"}))
}

func TestRun_InvalidConfig(t *testing.T) {
	assert.Error(t, run([]string{"-d", "cassandra"}))
}
