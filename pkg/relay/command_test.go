package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		payload string
		want    Command
	}{
		{"store", CommandStore},
		{"release", CommandRelease},
		{"Store", CommandInvalid},
		{"RELEASE", CommandInvalid},
		{"store ", CommandInvalid},
		{" release", CommandInvalid},
		{"stor", CommandInvalid},
		{"stored", CommandInvalid},
		{"store\x00", CommandInvalid},
		{"", CommandInvalid},
		{"open", CommandInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCommand([]byte(tt.payload)))
		})
	}
}

func TestCommand_String(t *testing.T) {
	assert.Equal(t, "store", CommandStore.String())
	assert.Equal(t, "release", CommandRelease.String())
	assert.Equal(t, "invalid", CommandInvalid.String())
}
