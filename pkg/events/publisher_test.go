package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edge-vision/camctl/pkg/stage"
)

type doneToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *doneToken {
	ch := make(chan struct{})
	close(ch)
	return &doneToken{err: err, done: ch}
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{}          { return t.done }
func (t *doneToken) Error() error                   { return t.err }

var _ pahomqtt.Token = (*doneToken)(nil)

type published struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeClient struct {
	msgs         []published
	err          error
	disconnected bool
}

func (f *fakeClient) Publish(topic string, qos byte, _ bool, payload any) pahomqtt.Token {
	f.msgs = append(f.msgs, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return newToken(f.err)
}

func (f *fakeClient) Disconnect(uint) { f.disconnected = true }

func TestTopic(t *testing.T) {
	assert.Equal(t, "camctl/cam-a/stages/stage_infer", Topic("camctl", "cam-a", "stage_infer"))
	assert.Equal(t, "camctl/cam-a/stages/stage_infer", Topic("camctl/", "cam-a", "stage_infer"))
	assert.Equal(t, "camctl/lab_cam__1/stages/stage_infer", Topic("camctl", "lab/cam+#1", "stage_infer"))
}

func TestPublisher_Observe(t *testing.T) {
	client := &fakeClient{}
	p := NewPublisher(client, "camctl", "run-1")

	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p.Observe(ctx, stage.Event{Kind: stage.EventStarting, Stage: "stage_infer", Position: 3, Total: 5, DeviceName: "cam-a", Time: now})
	p.Observe(ctx, stage.Event{Kind: stage.EventFailed, Stage: "stage_infer", Position: 3, Total: 5, DeviceName: "cam-a", Time: now, Duration: 2 * time.Second, Err: errors.New("boom")})

	require.Len(t, client.msgs, 2)
	assert.Equal(t, "camctl/cam-a/stages/stage_infer", client.msgs[0].topic)
	assert.Equal(t, byte(1), client.msgs[0].qos)

	var msg Message
	require.NoError(t, json.Unmarshal(client.msgs[1].payload, &msg))
	assert.Equal(t, stage.EventFailed, msg.Kind)
	assert.Equal(t, "run-1", msg.RunID)
	assert.Equal(t, int64(2000), msg.DurationMS)
	assert.Equal(t, "boom", msg.Error)
	assert.Equal(t, 3, msg.Position)

	p.Close()
	assert.True(t, client.disconnected)
}

func TestPublisher_FailureDoesNotPanic(t *testing.T) {
	client := &fakeClient{err: errors.New("not connected")}
	p := NewPublisher(client, "camctl", "")
	assert.NotPanics(t, func() {
		p.Observe(context.Background(), stage.Event{Kind: stage.EventStarting, Stage: "stage_a", DeviceName: "cam"})
	})
	assert.Len(t, client.msgs, 1)
}
