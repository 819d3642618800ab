package aws

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetProfile(t *testing.T) {
	t.Setenv("AWS_PROFILE", "")
	assert.Equal(t, "default", getProfile())

	t.Setenv("AWS_PROFILE", "vault-ops")
	assert.Equal(t, "vault-ops", getProfile())
}

func TestLoadOptions(t *testing.T) {
	assert.Len(t, loadOptions("", true), 0)
	assert.Len(t, loadOptions("us-east-1", true), 1)
	assert.Len(t, loadOptions("", false), 1)
	assert.Len(t, loadOptions("us-east-1", false), 2)
}
