package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionConstant(t *testing.T) {
	assert.NotEmpty(t, Version)
}
