package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage(RoleUser, "hello")
	require.NoError(t, err)
	assert.Equal(t, RoleUser, msg.Role)
	assert.Equal(t, "hello", msg.Content)
	assert.False(t, msg.Timestamp.IsZero())
}

func TestNewMessage_InvalidRole(t *testing.T) {
	_, err := NewMessage("robot", "hello")
	assert.Error(t, err)
}

func TestValidRole(t *testing.T) {
	assert.True(t, ValidRole(RoleUser))
	assert.True(t, ValidRole(RoleAssistant))
	assert.True(t, ValidRole(RoleSystem))
	assert.False(t, ValidRole("robot"))
	assert.False(t, ValidRole(""))
}
