package license

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient is a scripted ProtocolClient that records call order
type fakeClient struct {
	mu    sync.Mutex
	calls []string

	authToken string
	authErr   error

	checkResult CheckResult
	checkErr    error

	bindErr error

	statusFn func(call int) (Status, error)
	hbCalls  int
}

func (f *fakeClient) recordCall(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeClient) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeClient) Authenticate(ctx context.Context, creds Credentials) (string, error) {
	f.recordCall("authenticate")
	return f.authToken, f.authErr
}

func (f *fakeClient) CheckLicense(ctx context.Context, token string) (CheckResult, error) {
	f.recordCall("check_license")
	return f.checkResult, f.checkErr
}

func (f *fakeClient) BindFingerprint(ctx context.Context, token, fingerprint string) error {
	f.recordCall("bind_fingerprint")
	return f.bindErr
}

func (f *fakeClient) LicenseStatus(ctx context.Context, fingerprint string) (Status, error) {
	f.recordCall("license_status")
	return Status{}, nil
}

func (f *fakeClient) Heartbeat(ctx context.Context, fingerprint string) (Status, error) {
	f.recordCall("heartbeat")
	f.mu.Lock()
	f.hbCalls++
	call := f.hbCalls
	f.mu.Unlock()
	if f.statusFn != nil {
		return f.statusFn(call)
	}
	return Status{Valid: true, TimeRemaining: TimeRemaining{Days: 1, TotalMinutes: 1440}}, nil
}

func healthyClient() *fakeClient {
	return &fakeClient{
		authToken:   "T1",
		checkResult: CheckResult{Valid: true, DaysRemaining: 5},
	}
}

func testCreds() Credentials {
	return Credentials{Email: "user@example.com", Password: "hunter2"}
}

func TestEstablishSuccess(t *testing.T) {
	client := healthyClient()
	session := NewSession(client, "FINGERPRINT", nil)

	var milestones []int
	outcome := session.Establish(context.Background(), testCreds(), func(p int, _ string) {
		milestones = append(milestones, p)
	})

	require.Nil(t, outcome)
	assert.Equal(t, StateMonitoring, session.State())
	assert.Equal(t, 5, session.CheckResult().DaysRemaining)
	assert.Equal(t, []string{"authenticate", "check_license", "bind_fingerprint"}, client.Calls())
	assert.Equal(t, []int{20, 50, 80, 100}, milestones)
	assert.Nil(t, session.Outcome())
}

func TestEstablishAuthFailureStopsSequence(t *testing.T) {
	client := healthyClient()
	client.authErr = NewError(KindCredential, "invalid credentials")
	session := NewSession(client, "FINGERPRINT", nil)

	outcome := session.Establish(context.Background(), testCreds(), nil)

	require.NotNil(t, outcome)
	assert.Equal(t, StateFailed, outcome.State)
	assert.Equal(t, KindCredential, outcome.Kind)
	assert.Equal(t, "Invalid credentials.", outcome.Message)
	// A failed authenticate never results in further protocol calls
	assert.Equal(t, []string{"authenticate"}, client.Calls())
}

func TestEstablishAuthTransportFailure(t *testing.T) {
	client := healthyClient()
	client.authErr = NewError(KindTransport, "license server unreachable")
	session := NewSession(client, "FINGERPRINT", nil)

	outcome := session.Establish(context.Background(), testCreds(), nil)

	require.NotNil(t, outcome)
	assert.Equal(t, StateFailed, outcome.State)
	assert.Equal(t, KindTransport, outcome.Kind)
	assert.Contains(t, outcome.Message, "Could not reach the license server")
}

func TestEstablishInvalidLicense(t *testing.T) {
	client := healthyClient()
	client.checkResult = CheckResult{Valid: false}
	session := NewSession(client, "FINGERPRINT", nil)

	outcome := session.Establish(context.Background(), testCreds(), nil)

	require.NotNil(t, outcome)
	assert.Equal(t, StateFailed, outcome.State)
	assert.Equal(t, KindExpired, outcome.Kind)
	assert.Contains(t, outcome.Message, "Renew to continue")
	// Bind is never attempted for an invalid license
	assert.Equal(t, []string{"authenticate", "check_license"}, client.Calls())
}

func TestEstablishDeviceConflict(t *testing.T) {
	client := healthyClient()
	client.bindErr = NewError(KindUnauthorizedDevice, "access denied: this account is bound to another device")
	session := NewSession(client, "FINGERPRINT", nil)

	outcome := session.Establish(context.Background(), testCreds(), nil)

	require.NotNil(t, outcome)
	assert.Equal(t, StateFailed, outcome.State)
	assert.Equal(t, KindUnauthorizedDevice, outcome.Kind)
	assert.NotEqual(t, StateMonitoring, session.State(), "device conflict must never reach monitoring")
}

func TestEstablishRejectsSecondStart(t *testing.T) {
	client := healthyClient()
	session := NewSession(client, "FINGERPRINT", nil)

	require.Nil(t, session.Establish(context.Background(), testCreds(), nil))

	outcome := session.Establish(context.Background(), testCreds(), nil)
	require.NotNil(t, outcome)
	assert.Equal(t, KindBusy, outcome.Kind)
	// No extra protocol calls from the rejected start
	assert.Equal(t, []string{"authenticate", "check_license", "bind_fingerprint"}, client.Calls())
}

func TestHeartbeatRequiresMonitoring(t *testing.T) {
	session := NewSession(healthyClient(), "FINGERPRINT", nil)

	_, err := session.Heartbeat(context.Background())
	assert.ErrorIs(t, err, ErrNotMonitoring)
}

func TestHeartbeatRecordsLastStatus(t *testing.T) {
	client := healthyClient()
	client.statusFn = func(int) (Status, error) {
		return Status{
			Valid:         true,
			Plan:          "monthly",
			TimeRemaining: TimeRemaining{Days: 4, Hours: 23, Minutes: 59, TotalMinutes: 7199},
		}, nil
	}
	session := NewSession(client, "FINGERPRINT", nil)
	require.Nil(t, session.Establish(context.Background(), testCreds(), nil))

	status, err := session.Heartbeat(context.Background())
	require.NoError(t, err)
	assert.True(t, status.TimeRemaining.Consistent())
	assert.Equal(t, 7199, status.TimeRemaining.TotalMinutes)
}

func TestStop(t *testing.T) {
	session := NewSession(healthyClient(), "FINGERPRINT", nil)
	require.Nil(t, session.Establish(context.Background(), testCreds(), nil))

	outcome := session.Stop(context.Background())
	assert.Equal(t, StateStopped, outcome.State)
	assert.Equal(t, StateStopped, session.State())

	// A stopped session performs no further protocol calls
	_, err := session.Heartbeat(context.Background())
	assert.ErrorIs(t, err, ErrNotMonitoring)
}

func TestStateTerminal(t *testing.T) {
	assert.False(t, StateIdle.Terminal())
	assert.False(t, StateAuthenticating.Terminal())
	assert.False(t, StateCheckingLicense.Terminal())
	assert.False(t, StateBindingFingerprint.Terminal())
	assert.False(t, StateMonitoring.Terminal())
	assert.True(t, StateExpired.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.True(t, StateStopped.Terminal())
}
