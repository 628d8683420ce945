// ABOUTME: Tests for command line tag parsing and global flag validation
// ABOUTME: Nothing here starts a bridge

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mapi-bridge/internal/mapi"
)

func TestParseTag(t *testing.T) {
	tests := []struct {
		in      string
		want    mapi.PropTag
		wantErr bool
	}{
		{"name", mapi.PropTagDisplayName, false},
		{"Email", mapi.PropTagEmailAddress, false},
		{"0x3001001F", mapi.PropTagDisplayName, false},
		{"3a06001f", mapi.PropTagGivenName, false},
		{"photo", mapi.PropTagContactPhoto, false},
		{"nickname", 0, true},
		{"0x1FFFFFFFF", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseTag(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTags_DefaultsAreKnown(t *testing.T) {
	tags, err := parseTags(defaultTags)
	require.NoError(t, err)
	assert.Len(t, tags, len(defaultTags))
}

func TestRootCommand_RejectsBadFormat(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"--format", "xml", "contacts"})
	err := cmd.Execute()
	assert.ErrorContains(t, err, "invalid format")
}
