package rudp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brisknet/rudp/internal/conn"
)

func TestDefaultConfigPassesValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestConditionRoundTripsThroughConnErr(t *testing.T) {
	err := conn.CloseTimedOut.Err()
	cond, ok := Condition(err)
	require.True(t, ok)
	assert.Equal(t, CloseCondition(conn.CloseTimedOut), cond)
}

func TestConditionFalseForUnrelatedError(t *testing.T) {
	_, ok := Condition(errors.New("not a close condition"))
	assert.False(t, ok)
}

func TestConnReadDeliversBufferedBytes(t *testing.T) {
	data := conn.NewConnectionData()
	c := &Conn{data: data}

	data.DeliverReceived([]byte("hello"))

	buf := make([]byte, 16)
	n, err := c.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestConnReadReturnsCloseConditionOnceDrained(t *testing.T) {
	data := conn.NewConnectionData()
	c := &Conn{data: data}
	data.SetCloseCondition(conn.CloseReceiveError)

	buf := make([]byte, 16)
	n, err := c.Read(buf)
	assert.Equal(t, 0, n)
	cond, ok := Condition(err)
	require.True(t, ok)
	assert.Equal(t, CloseCondition(conn.CloseReceiveError), cond)
}

func TestConnWriteQueuesBytesForTheWorker(t *testing.T) {
	data := conn.NewConnectionData()
	c := &Conn{data: data}

	n, err := c.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, data.PendingSendLen())
}

func TestConnWriteFailsOnceClosed(t *testing.T) {
	data := conn.NewConnectionData()
	c := &Conn{data: data}
	data.SetCloseCondition(conn.CloseLocalRequest)

	_, err := c.Write([]byte("abc"))
	assert.Error(t, err)
}

func TestConnCloseRequestsCloseOnTheData(t *testing.T) {
	data := conn.NewConnectionData()
	c := &Conn{data: data}

	require.NoError(t, c.Close())
	assert.True(t, data.TakeCloseRequest())
}
