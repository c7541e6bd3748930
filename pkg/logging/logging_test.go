package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestComponentTagsEntryWithName(t *testing.T) {
	log := NewDefault()
	component := Component(log, "scheduler")

	entry, ok := component.(*logrus.Entry)
	require.True(t, ok)
	require.Equal(t, "scheduler", entry.Data["component"])
}

func TestComponentOnEntryOverwritesComponentField(t *testing.T) {
	log := NewDefault()
	first := Component(log, "registry")
	second := Component(first, "init-worker")

	entry, ok := second.(*logrus.Entry)
	require.True(t, ok)
	require.Equal(t, "init-worker", entry.Data["component"], "nested Component calls overwrite the field, innermost wins")
}
