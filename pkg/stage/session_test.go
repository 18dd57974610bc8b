package stage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_UnsetFields(t *testing.T) {
	sess := NewSession("cam-a")
	assert.Equal(t, "cam-a", sess.DeviceName())

	_, err := sess.DeviceID()
	var uninit *UninitializedFieldError
	require.ErrorAs(t, err, &uninit)
	assert.Equal(t, FieldDeviceID, uninit.Field)

	_, err = sess.OutputSubdirectory()
	require.ErrorAs(t, err, &uninit)
	assert.Equal(t, FieldOutputSubdirectory, uninit.Field)
}

func TestSession_WriteOnce(t *testing.T) {
	sess := NewSession("cam-a")

	require.NoError(t, sess.SetDeviceID("Aid-1"))
	require.NoError(t, sess.SetDeviceID("Aid-1"), "same value is a no-op")
	assert.ErrorIs(t, sess.SetDeviceID("Aid-2"), ErrFieldAlreadySet)

	id, err := sess.DeviceID()
	require.NoError(t, err)
	assert.Equal(t, "Aid-1", id)

	require.NoError(t, sess.SetOutputSubdirectory("out/1"))
	assert.ErrorIs(t, sess.SetOutputSubdirectory("out/2"), ErrFieldAlreadySet)
	dir, err := sess.OutputSubdirectory()
	require.NoError(t, err)
	assert.Equal(t, "out/1", dir)
}

func TestSession_EmptyIDIsStillSet(t *testing.T) {
	sess := NewSession("cam-a")
	require.NoError(t, sess.SetDeviceID(""))
	id, err := sess.DeviceID()
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestSession_State(t *testing.T) {
	sess := NewSession("cam-a")
	assert.Equal(t, SessionState{DeviceName: "cam-a"}, sess.State())

	require.NoError(t, sess.SetDeviceID("Aid-1"))
	sess.SetFact("anomaly_score", "0.75")

	st := sess.State()
	assert.Equal(t, "Aid-1", st.DeviceID)
	assert.Equal(t, map[string]string{"anomaly_score": "0.75"}, st.Facts)

	st.Facts["anomaly_score"] = "changed"
	v, ok := sess.Fact("anomaly_score")
	assert.True(t, ok)
	assert.Equal(t, "0.75", v, "snapshot must not alias the session")
}
