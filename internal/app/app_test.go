package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nftecnologia/mailgenius/internal/config"
	"github.com/nftecnologia/mailgenius/internal/domain"
)

func TestNewRequiresDatabaseURL(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Database.URL = ""

	_, err = New(cfg)
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	assert.Equal(t, "CONFIG_DATABASE", domain.CodeOf(err))
}
