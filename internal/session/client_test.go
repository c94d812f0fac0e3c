package session

import (
	"sync"

	"github.com/devicehub-server/devicehub-server/internal/devicesvc"
	"github.com/devicehub-server/devicehub-server/internal/models"
)

type sentCommand struct {
	targetID string
	cmd      models.Command
}

// fakeClient is a scriptable devicesvc.Client. Tests drive the session
// by emitting raw events and asserting on recorded calls.
type fakeClient struct {
	mu          sync.Mutex
	events      chan devicesvc.Event
	connects    []*devicesvc.ChallengeResponse
	connectErr  error
	sent        []sentCommand
	sendErr     error
	disconnects int
	devices     []devicesvc.TargetInfo
	stations    []devicesvc.TargetInfo
	props       map[string]interface{}
	propSets    []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		events: make(chan devicesvc.Event, 64),
		props:  make(map[string]interface{}),
	}
}

func (f *fakeClient) Connect(resp *devicesvc.ChallengeResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, resp)
	return f.connectErr
}

func (f *fakeClient) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeClient) ListDevices() ([]devicesvc.TargetInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices, nil
}

func (f *fakeClient) ListStations() ([]devicesvc.TargetInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stations, nil
}

func (f *fakeClient) GetProperty(targetID, name string) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.props[targetID+"/"+name], nil
}

func (f *fakeClient) SetProperty(targetID, name string, value interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.props[targetID+"/"+name] = value
	f.propSets = append(f.propSets, targetID+"/"+name)
	return nil
}

func (f *fakeClient) SendCommand(targetID string, cmd models.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentCommand{targetID: targetID, cmd: cmd})
	return nil
}

func (f *fakeClient) Events() <-chan devicesvc.Event {
	return f.events
}

func (f *fakeClient) emit(ev devicesvc.Event) {
	f.events <- ev
}

func (f *fakeClient) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connects)
}

func (f *fakeClient) lastConnect() *devicesvc.ChallengeResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.connects) == 0 {
		return nil
	}
	return f.connects[len(f.connects)-1]
}

func (f *fakeClient) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeClient) sentAt(i int) sentCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[i]
}
