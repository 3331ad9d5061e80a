package handlers_test

import (
	"errors"
	"testing"

	"github.com/BradenHooton/warden/internal/handlers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRequest_UsesJSONNames(t *testing.T) {
	err := handlers.ValidateRequest(handlers.MFADisableRequest{})

	var ve *handlers.ValidationError
	require.True(t, errors.As(err, &ve))
	require.Len(t, ve.Fields, 2)
	assert.Equal(t, "password", ve.Fields[0].Field)
	assert.Equal(t, "totp_code", ve.Fields[1].Field)
	assert.Equal(t, "this field is required", ve.Fields[0].Message)
	assert.Contains(t, ve.Error(), "password")
}

func TestValidateRequest_Valid(t *testing.T) {
	assert.NoError(t, handlers.ValidateRequest(handlers.CreateAdminRequest{Username: "ops", Email: "ops@example.com", Role: "super_admin"}))
	assert.NoError(t, handlers.ValidateRequest(&handlers.MFASetupRequest{}))
}

func TestValidateRequest_Messages(t *testing.T) {
	err := handlers.ValidateRequest(handlers.CreateAdminRequest{Username: "ops", Email: "nope", Role: "root"})

	var ve *handlers.ValidationError
	require.True(t, errors.As(err, &ve))
	require.Len(t, ve.Fields, 2)
	assert.Equal(t, "must be a valid email address", ve.Fields[0].Message)
	assert.Equal(t, "must be one of: admin super_admin", ve.Fields[1].Message)
}
