package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"worknode/internal/content"
	"worknode/internal/protocol"
)

func TestExecution_StateMachine(t *testing.T) {
	req := protocol.NewHashRequest("r", []content.Reference{content.NewReference("file:///a", "")}, "md5")
	var emitted []protocol.Status
	e := newExecution(req, func(r protocol.Reply) { emitted = append(emitted, r.Header().Status) })

	assert.Equal(t, StateDecoded, e.State())
	e.Report(0.5) // not executing yet
	assert.Empty(t, emitted)

	e.start()
	assert.Equal(t, StateExecuting, e.State())
	e.start()
	e.Report(0.5)

	assert.True(t, e.complete(nil))
	assert.False(t, e.fail("late"))
	assert.Equal(t, StateTerminal, e.State())

	assert.Equal(t, []protocol.Status{protocol.StatusInProgress, protocol.StatusInProgress, protocol.StatusComplete}, emitted)
	assert.Equal(t, "terminal", e.State().String())
}
