package transcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoTaskOrder() *Order {
	return NewOrder(1, []TaskSpec{
		{SourceFileID: 10, ContentID: 100, SourcePath: "/source/a.mp4", Params: Params{Kind: "av1"}},
		{SourceFileID: 11, ContentID: 101, SourcePath: "/source/b.mp4", Params: Params{Kind: "av1"}},
	})
}

func TestNewOrder(t *testing.T) {
	order := twoTaskOrder()

	assert.Equal(t, OrderProcessing, order.Status)
	require.Len(t, order.Tasks, 2)
	for _, task := range order.Tasks {
		assert.Equal(t, TaskProcessing, task.Status)
		assert.Equal(t, order.ID, task.OrderID)
		assert.NotZero(t, task.ID)
	}
	assert.NotEqual(t, order.Tasks[0].ID, order.Tasks[1].ID)
}

func TestFinishIsIdempotent(t *testing.T) {
	order := twoTaskOrder()
	task := &order.Tasks[0]

	assert.True(t, task.Finish(TaskOk, ""))
	assert.False(t, task.Finish(TaskFailed, "late duplicate"))
	assert.Equal(t, TaskOk, task.Status)
	assert.Empty(t, task.Reason)
}

func TestRecomputeStaysProcessing(t *testing.T) {
	order := twoTaskOrder()
	order.Tasks[0].Finish(TaskOk, "")

	assert.Equal(t, OrderProcessing, order.Recompute())
}

func TestRecomputeOkWithOneSuccess(t *testing.T) {
	order := twoTaskOrder()
	order.Tasks[0].Finish(TaskOk, "")
	order.Tasks[1].Finish(TaskFailed, "encoder crashed")

	assert.Equal(t, OrderOk, order.Recompute())
}

func TestRecomputeFailedWhenNoneSucceed(t *testing.T) {
	order := twoTaskOrder()
	order.Tasks[0].Finish(TaskFailed, "encoder crashed")
	order.Tasks[1].Finish(TaskCancelled, "")

	assert.Equal(t, OrderFailed, order.Recompute())
}

func TestParamsSuffix(t *testing.T) {
	assert.Equal(t, "av1", Params{Kind: "av1"}.Suffix())
	assert.Equal(t, "small", Params{Kind: "av1", OutputName: "small"}.Suffix())
}

func TestOrderTaskLookup(t *testing.T) {
	order := twoTaskOrder()

	found := order.Task(order.Tasks[1].ID)
	require.NotNil(t, found)
	assert.Equal(t, order.Tasks[1].ID, found.ID)

	assert.Nil(t, order.Task(TaskID(999)))
}
