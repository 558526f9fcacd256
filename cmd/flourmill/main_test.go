package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flourmill-erp/flourmill/internal/app"
	_ "github.com/flourmill-erp/flourmill/testing"
)

func TestMainSkipsStartupInTestMode(t *testing.T) {
	app.RefreshTestMode()
	require.True(t, app.InTestMode())
	require.NotPanics(t, main)
}
