package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	m, err := NewManager("test-secret", time.Hour)
	require.NoError(t, err)

	token, err := m.Issue("telegram-bot")
	require.NoError(t, err)

	service, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "telegram-bot", service)
}

func TestVerify_RejectsWrongSecret(t *testing.T) {
	m1, err := NewManager("secret-one", time.Hour)
	require.NoError(t, err)
	m2, err := NewManager("secret-two", time.Hour)
	require.NoError(t, err)

	token, err := m1.Issue("telegram-bot")
	require.NoError(t, err)

	_, err = m2.Verify(token)
	assert.Error(t, err)
}

func TestVerify_RejectsExpired(t *testing.T) {
	m, err := NewManager("test-secret", -time.Minute)
	require.NoError(t, err)

	token, err := m.Issue("telegram-bot")
	require.NoError(t, err)

	_, err = m.Verify(token)
	assert.Error(t, err)
}

func TestNewManager_RequiresSecret(t *testing.T) {
	_, err := NewManager("", time.Hour)
	assert.Error(t, err)
}
