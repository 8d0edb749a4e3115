package logging

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeID int

func (id fakeID) String() string { return fmt.Sprintf("exec:%d", int(id)) }

func TestNewDefaultsToInfoLevel(t *testing.T) {
	logger, err := New("")
	require.NoError(t, err)
	defer logger.Sync()
	assert.True(t, logger.Core().Enabled(0)) // zapcore.InfoLevel == 0
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New("not-a-level")
	assert.Error(t, err)
}

func TestExecFieldUsesStringer(t *testing.T) {
	field := ExecField(fakeID(7))
	assert.Equal(t, "exec_id", field.Key)
}
