package logging_test

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"

	"duocall/pkg/logging"
)

func TestSetupWriter(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	t.Run("given json output when logging then one object per line is written", func(t *testing.T) {
		var buf bytes.Buffer
		logging.SetupWriter(&buf, false, true)

		log.Info().Str("session_id", "s1").Msg("hello")
		log.Debug().Msg("hidden")

		assert.Contains(t, buf.String(), `"session_id":"s1"`)
		assert.NotContains(t, buf.String(), "hidden")
	})

	t.Run("given debug console output when logging then debug lines are written", func(t *testing.T) {
		var buf bytes.Buffer
		logging.SetupWriter(&buf, true, false)

		log.Debug().Str("state", "connected").Msg("link")

		assert.Contains(t, buf.String(), "link")
		assert.Contains(t, buf.String(), "state=connected")
	})
}
